// Package dataset loads the BRFSS2015 diabetes health-indicator table.
package dataset

// TargetColumn is the binary label: 0 no diabetes, 1 prediabetes or diabetes.
const TargetColumn = "Diabetes_binary"

// DefaultFile is the file name of the unbalanced binary indicator export.
const DefaultFile = "diabetes_binary_health_indicators_BRFSS2015.csv"

// Columns is the expected header, in order.
var Columns = []string{
	TargetColumn,
	"HighBP",
	"HighChol",
	"CholCheck",
	"BMI",
	"Smoker",
	"Stroke",
	"HeartDiseaseorAttack",
	"PhysActivity",
	"Fruits",
	"Veggies",
	"HvyAlcoholConsump",
	"AnyHealthcare",
	"NoDocbcCost",
	"GenHlth",
	"MentHlth",
	"PhysHlth",
	"DiffWalk",
	"Sex",
	"Age",
	"Education",
	"Income",
}

// Schema is an ordered column list with a designated target.
type Schema struct {
	Columns []string
	Target  string
}

// DefaultSchema returns the 22-column BRFSS2015 schema.
func DefaultSchema() Schema {
	cols := make([]string, len(Columns))
	copy(cols, Columns)
	return Schema{Columns: cols, Target: TargetColumn}
}

func (s Schema) targetIndex() int {
	for i, c := range s.Columns {
		if c == s.Target {
			return i
		}
	}
	return -1
}

// matches reports whether header equals the schema column for column.
func (s Schema) matches(header []string) bool {
	if len(header) != len(s.Columns) {
		return false
	}
	for i := range header {
		if header[i] != s.Columns[i] {
			return false
		}
	}
	return true
}
