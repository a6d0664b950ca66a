// Package tabular decodes an uploaded CSV or XLSX file into ordered raw rows
// bound to the declared record kind's column schema.
package tabular

import "github.com/dharsanguruparan/LeadVault/internal/model"

// Column is one declared input column. Required columns must be present in
// the header; whether their cells may be empty is the validator's concern.
type Column struct {
	Name     string
	Required bool
}

// Schema is the fixed, ordered column set of one record kind.
type Schema struct {
	Kind    model.RecordKind
	Columns []Column
}

// Column names shared by the parser, the validator and the error report.
const (
	ColName           = "name"
	ColWebsite        = "website"
	ColIndustry       = "industry"
	ColPhone          = "phone"
	ColCity           = "city"
	ColCountry        = "country"
	ColDescription    = "description"
	ColFoundedYear    = "founded_year"
	ColEmployeeCount  = "employee_count"
	ColOrganizationID = "organization_id"
	ColFirstName      = "first_name"
	ColLastName       = "last_name"
	ColEmail          = "email"
	ColTitle          = "title"
	ColLinkedIn       = "linkedin"
)

var organizationSchema = Schema{
	Kind: model.KindOrganization,
	Columns: []Column{
		{Name: ColName, Required: true},
		{Name: ColWebsite, Required: true},
		{Name: ColIndustry},
		{Name: ColPhone},
		{Name: ColCity},
		{Name: ColCountry},
		{Name: ColDescription},
		{Name: ColFoundedYear},
		{Name: ColEmployeeCount},
	},
}

var personSchema = Schema{
	Kind: model.KindPerson,
	Columns: []Column{
		{Name: ColOrganizationID, Required: true},
		{Name: ColFirstName, Required: true},
		{Name: ColLastName, Required: true},
		{Name: ColEmail, Required: true},
		{Name: ColPhone},
		{Name: ColTitle},
		{Name: ColLinkedIn},
	},
}

// SchemaFor returns the column schema for kind.
func SchemaFor(kind model.RecordKind) Schema {
	if kind == model.KindPerson {
		return personSchema
	}
	return organizationSchema
}

// Names returns the column names in declared order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}
