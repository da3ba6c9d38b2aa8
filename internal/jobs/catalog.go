package jobs

import (
	"fmt"
	"sort"

	"github.com/spf13/viper"

	"github.com/t77yq/ingest-console/internal/model"
)

// ErrUnknownJob is returned when a job code is not in the catalog
var ErrUnknownJob = fmt.Errorf("unknown job code")

// Catalog holds the ingestion job definitions operators can schedule or
// trigger. Definitions come from configuration with a built-in default
// set, and are immutable after construction.
type Catalog struct {
	defs  map[string]model.JobDefinition
	order []string
}

// defaultDefinitions covers the ingestion jobs shipped with the console.
var defaultDefinitions = []model.JobDefinition{
	{JobCode: "orders_sync", Title: "Orders sync", SourceCode: "wb", SupportsSchedule: true, SupportsManual: true},
	{JobCode: "sales_report", Title: "Sales report", SourceCode: "wb", SupportsSchedule: true, SupportsManual: true},
	{JobCode: "stock_snapshot", Title: "Stock snapshot", SourceCode: "wb", SupportsSchedule: true, SupportsManual: false},
	{JobCode: "prices_sync", Title: "Prices sync", SourceCode: "ozon", SupportsSchedule: true, SupportsManual: true},
	{JobCode: "catalog_import", Title: "Catalog import", SourceCode: "ozon", SupportsSchedule: false, SupportsManual: true},
}

// NewCatalog builds a catalog from the default definitions.
func NewCatalog() *Catalog {
	return newCatalog(defaultDefinitions)
}

// NewCatalogFromConfig builds a catalog from the "jobs" section of the
// configuration, falling back to the defaults when the section is empty.
func NewCatalogFromConfig(v *viper.Viper) (*Catalog, error) {
	var defs []model.JobDefinition
	if err := v.UnmarshalKey("jobs", &defs); err != nil {
		return nil, fmt.Errorf("failed to read job definitions: %w", err)
	}
	if len(defs) == 0 {
		defs = defaultDefinitions
	}
	return newCatalog(defs), nil
}

func newCatalog(defs []model.JobDefinition) *Catalog {
	c := &Catalog{defs: make(map[string]model.JobDefinition, len(defs))}
	for _, def := range defs {
		if _, exists := c.defs[def.JobCode]; exists {
			continue
		}
		c.defs[def.JobCode] = def
		c.order = append(c.order, def.JobCode)
	}
	sort.Strings(c.order)
	return c
}

// Get returns the definition for a job code.
func (c *Catalog) Get(jobCode string) (model.JobDefinition, error) {
	def, ok := c.defs[jobCode]
	if !ok {
		return model.JobDefinition{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobCode)
	}
	return def, nil
}

// List returns all definitions ordered by job code.
func (c *Catalog) List() []model.JobDefinition {
	out := make([]model.JobDefinition, 0, len(c.order))
	for _, code := range c.order {
		out = append(out, c.defs[code])
	}
	return out
}
