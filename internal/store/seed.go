package store

import "loanflow/internal/domain"

// EnumSeed is one enum type with its values, as installed by
// migrations/0002_seed_enums.up.sql.
type EnumSeed struct {
	Type   domain.EnumType
	Values []domain.EnumValue
}

func seedValues(pairs ...string) []domain.EnumValue {
	values := make([]domain.EnumValue, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		values = append(values, domain.EnumValue{
			Value:        pairs[i],
			Label:        pairs[i+1],
			DisplayOrder: i/2 + 1,
			IsActive:     true,
		})
	}
	return values
}

// DefaultEnumSeeds returns the enum definitions the intake form depends on.
func DefaultEnumSeeds() []EnumSeed {
	maxIncomeSources := 6
	return []EnumSeed{
		{
			Type: domain.EnumType{Name: "MaritalStatusEnum", Description: "Marital status", IsActive: true},
			Values: seedValues(
				"married", "Married",
				"single", "Single",
				"divorced", "Divorced",
				"widowed", "Widowed",
			),
		},
		{
			Type: domain.EnumType{Name: "HousingTypeEnum", Description: "Current housing", IsActive: true},
			Values: seedValues(
				"own", "Owner occupied",
				"rent", "Rented",
				"with_parents", "With parents",
				"with_partner", "With partner",
				"cooperative", "Cooperative housing",
			),
		},
		{
			Type: domain.EnumType{Name: "EducationLevelEnum", Description: "Highest completed education", IsActive: true},
			Values: seedValues(
				"elementary", "Elementary school",
				"apprenticeship", "Apprenticeship",
				"high_school", "High school",
				"bachelor", "Bachelor's degree",
				"master", "Master's degree",
				"doctorate", "Doctorate",
			),
		},
		{
			Type: domain.EnumType{
				Name:          "IncomeSourceEnum",
				Description:   "Sources of income",
				IsMultiSelect: true,
				MaxSelections: &maxIncomeSources,
				IsActive:      true,
			},
			Values: seedValues(
				"employment", "Employment",
				"business", "Self-employment",
				"parental_leave", "Parental leave",
				"maternity_leave", "Maternity leave",
				"pension", "Retirement pension",
				"disability_pension", "Disability pension",
				"part_time_job", "Part-time job",
				"rental_income", "Rental or capital income",
				"foster_care", "Foster care allowance",
				"alimony", "Alimony",
				"military_service", "Military service pension",
				"care_for_relative", "Care for a relative",
				"unemployed", "Unemployed",
			),
		},
	}
}
