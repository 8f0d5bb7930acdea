package builtin

import "redfinetl/internal/transformer"

// CityField is the column whose commas are stripped.
const CityField = "city"

// PeriodFields are the date columns of the city market tracker.
var PeriodFields = []string{"period_begin", "period_end"}

// SelectedColumns is the projection of the cleaned dataset, in output order.
var SelectedColumns = []string{
	"period_begin",
	"period_end",
	"period_duration",
	"region_type",
	"region_type_id",
	"table_id",
	"is_seasonally_adjusted",
	"city",
	"state",
	"state_code",
	"property_type",
	"property_type_id",
	"median_sale_price",
	"median_list_price",
	"median_ppsf",
	"median_list_ppsf",
	"homes_sold",
	"inventory",
	"months_of_supply",
	"median_dom",
	"avg_sale_to_list",
	"sold_above_list",
	"parent_metro_region_metro_code",
	"last_updated",
}

// CleaningSteps returns a fresh, unbound copy of the city market tracker
// cleaning chain. Steps keep bound state, so every transform needs its own.
func CleaningSteps() []transformer.Step {
	return []transformer.Step{
		&StripChars{Field: CityField, Chars: ","},
		&Select{Fields: SelectedColumns},
		&DropNulls{Fields: SelectedColumns},
		&ParseDates{Fields: PeriodFields},
		&DeriveYear{Fields: PeriodFields},
		&DeriveMonthName{Fields: PeriodFields},
	}
}

// CleaningPlan compiles CleaningSteps against the raw header.
func CleaningPlan(header []string) (*transformer.Plan, error) {
	return transformer.Compile(header, CleaningSteps()...)
}
