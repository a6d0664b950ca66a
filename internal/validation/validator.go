// Package validation runs the per-row structural and business checks and
// produces normalized drafts. Checks never stop at the first failure so the
// error report lists everything wrong with a row.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/normalize"
	"github.com/dharsanguruparan/LeadVault/internal/tabular"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

const minFoundedYear = 1800

// maxLength is the per-column ceiling in runes, measured after normalization.
var maxLength = map[string]int{
	tabular.ColName:           255,
	tabular.ColWebsite:        255,
	tabular.ColIndustry:       128,
	tabular.ColPhone:          32,
	tabular.ColCity:           128,
	tabular.ColCountry:        128,
	tabular.ColDescription:    2000,
	tabular.ColOrganizationID: 64,
	tabular.ColFirstName:      100,
	tabular.ColLastName:       100,
	tabular.ColEmail:          254,
	tabular.ColTitle:          128,
	tabular.ColLinkedIn:       255,
}

// OrganizationLookup resolves a person's parent organization.
type OrganizationLookup interface {
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
}

// Result is the outcome for one row: exactly one of the drafts is set when
// Errors is empty.
type Result struct {
	Organization *model.OrganizationDraft
	Person       *model.PersonDraft
	Errors       []model.RowError
}

func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

type Validator struct {
	orgs OrganizationLookup
	now  func() time.Time
}

func New(orgs OrganizationLookup) *Validator {
	return &Validator{orgs: orgs, now: time.Now}
}

// Row dispatches on kind. The returned error is infrastructural (the parent
// lookup failed) and never a validation outcome.
func (v *Validator) Row(ctx context.Context, kind model.RecordKind, row tabular.Row, segmentID string) (Result, error) {
	if kind == model.KindPerson {
		return v.Person(ctx, row)
	}
	return v.Organization(row, segmentID), nil
}

// Organization validates an organization row targeted at segmentID.
func (v *Validator) Organization(row tabular.Row, segmentID string) Result {
	c := newCollector(row)

	name := normalize.Text(row.Get(tabular.ColName))
	c.required(tabular.ColName, name)

	website := normalize.Website(row.Get(tabular.ColWebsite))
	if website != "" {
		if err := validate.Var(normalize.Domain(website), "fqdn"); err != nil {
			c.add(tabular.ColWebsite, "is not a valid website")
		}
	}
	phone := c.phone(row.Get(tabular.ColPhone))

	draft := &model.OrganizationDraft{
		SegmentID:   segmentID,
		Name:        name,
		Website:     website,
		Industry:    normalize.Text(row.Get(tabular.ColIndustry)),
		Phone:       phone,
		City:        normalize.Text(row.Get(tabular.ColCity)),
		Country:     normalize.Text(row.Get(tabular.ColCountry)),
		Description: strings.TrimSpace(row.Get(tabular.ColDescription)),
		NameKey:     normalize.Fold(name),
		WebsiteKey:  website,
	}
	c.lengths(model.KindOrganization, map[string]string{
		tabular.ColName:        draft.Name,
		tabular.ColWebsite:     draft.Website,
		tabular.ColIndustry:    draft.Industry,
		tabular.ColPhone:       draft.Phone,
		tabular.ColCity:        draft.City,
		tabular.ColCountry:     draft.Country,
		tabular.ColDescription: draft.Description,
	})

	draft.FoundedYear = c.integer(tabular.ColFoundedYear, minFoundedYear, v.now().Year())
	draft.EmployeeCount = c.integer(tabular.ColEmployeeCount, 0, 10_000_000)

	if c.failed() {
		return Result{Errors: c.errs}
	}
	return Result{Organization: draft}
}

// Person validates a person row, including the rule that the parent
// organization must currently be approved.
func (v *Validator) Person(ctx context.Context, row tabular.Row) (Result, error) {
	c := newCollector(row)

	orgID := strings.TrimSpace(row.Get(tabular.ColOrganizationID))
	first := normalize.Text(row.Get(tabular.ColFirstName))
	last := normalize.Text(row.Get(tabular.ColLastName))
	email := strings.TrimSpace(row.Get(tabular.ColEmail))
	c.required(tabular.ColOrganizationID, orgID)
	c.required(tabular.ColFirstName, first)
	c.required(tabular.ColLastName, last)
	c.required(tabular.ColEmail, email)

	if email != "" {
		if err := validate.Var(email, "email"); err != nil {
			c.add(tabular.ColEmail, "is not a valid email address")
		}
	}
	phone := c.phone(row.Get(tabular.ColPhone))
	linkedIn := normalize.Website(row.Get(tabular.ColLinkedIn))

	draft := &model.PersonDraft{
		OrganizationID: orgID,
		FirstName:      first,
		LastName:       last,
		Email:          email,
		EmailKey:       normalize.Email(email),
		Phone:          phone,
		Title:          normalize.Text(row.Get(tabular.ColTitle)),
		LinkedIn:       linkedIn,
	}
	c.lengths(model.KindPerson, map[string]string{
		tabular.ColOrganizationID: draft.OrganizationID,
		tabular.ColFirstName:      draft.FirstName,
		tabular.ColLastName:       draft.LastName,
		tabular.ColEmail:          draft.Email,
		tabular.ColPhone:          draft.Phone,
		tabular.ColTitle:          draft.Title,
		tabular.ColLinkedIn:       draft.LinkedIn,
	})

	if orgID != "" {
		parent, err := v.orgs.GetOrganization(ctx, orgID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			c.add(tabular.ColOrganizationID, (&model.ParentNotApprovedError{OrganizationID: orgID}).Error())
		case err != nil:
			return Result{}, fmt.Errorf("lookup organization %s: %w", orgID, err)
		case parent.Status != model.OrganizationApproved:
			c.add(tabular.ColOrganizationID, (&model.ParentNotApprovedError{OrganizationID: orgID, Status: parent.Status}).Error())
		}
	}

	if c.failed() {
		return Result{Errors: c.errs}, nil
	}
	return Result{Person: draft}, nil
}

type collector struct {
	row  tabular.Row
	errs []model.RowError
}

func newCollector(row tabular.Row) *collector {
	return &collector{row: row}
}

func (c *collector) add(column, msg string) {
	c.errs = append(c.errs, model.RowError{Row: c.row.Number, Column: column, Message: msg})
}

func (c *collector) failed() bool {
	return len(c.errs) > 0
}

func (c *collector) required(column, value string) {
	if value == "" {
		c.add(column, "is required")
	}
}

// phone digit-strips a non-empty raw value and checks the digit count.
func (c *collector) phone(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	digits := normalize.Phone(raw)
	if len(digits) < 7 || len(digits) > 15 {
		c.add(tabular.ColPhone, "must contain between 7 and 15 digits")
	}
	return digits
}

// lengths checks columns in schema order so errors come out deterministic.
func (c *collector) lengths(kind model.RecordKind, values map[string]string) {
	for _, col := range tabular.SchemaFor(kind).Names() {
		v, ok := values[col]
		if !ok {
			continue
		}
		if limit, ok := maxLength[col]; ok && utf8.RuneCountInString(v) > limit {
			c.add(col, fmt.Sprintf("exceeds %d characters", limit))
		}
	}
}

// integer parses an optional whole number and checks it against [lo, hi].
func (c *collector) integer(column string, lo, hi int) *int {
	raw := strings.TrimSpace(c.row.Get(column))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.add(column, "must be a whole number")
		return nil
	}
	if n < lo || n > hi {
		c.add(column, fmt.Sprintf("must be between %d and %d", lo, hi))
		return nil
	}
	return &n
}
