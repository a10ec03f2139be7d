// Package kpi computes the named aggregations served by the analytics layer.
package kpi

import (
	"sort"

	"github.com/PratikDhanave/kpi-stream-service/internal/models"
)

// KPI names.
const (
	TotalRevenue                = "total-revenue"
	TotalSalesProfit            = "total-sales-profit"
	TotalWebsiteVisits          = "total-website-visits"
	UniqueVisitors              = "unique-visitors"
	LeadsGenerated              = "leads-generated"
	DemoRequests                = "demo-requests"
	ProfitPerSalesperson        = "profit-per-salesperson"
	ProfitPerProduct            = "profit-per-product"
	SalesPerCountry             = "sales-per-country"
	ProductSalesPerCountry      = "product-sales-per-country"
	LeadsBySource               = "leads-by-source"
	LeadsByStatus               = "leads-by-status"
	RevenueProfitPerSalesperson = "revenue-profit-per-salesperson"
	RevenueProfitPerProduct     = "revenue-profit-per-product"
	BestSalesperson             = "best-salesperson"
	MostSoldProduct             = "most-sold-product"
	ConversionRate              = "conversion-rate"
	LeadConversionRate          = "lead-conversion-rate"
	LeadsByDay                  = "leads-by-day"
	TopLandingPages             = "top-landing-pages"
)

// DefaultTopN is the number of landing pages returned when no limit is given.
const DefaultTopN = 5

// Definition describes one catalog entry.
type Definition struct {
	Name        string        `json:"name"`
	Kinds       []models.Kind `json:"kinds"`
	Description string        `json:"description"`
	// Limited is true for KPIs that accept a row limit.
	Limited bool `json:"limited,omitempty"`
}

var (
	visits     = []models.Kind{models.KindVisit}
	sales      = []models.Kind{models.KindSale}
	leads      = []models.Kind{models.KindLead}
	salesLeads = []models.Kind{models.KindSale, models.KindLead}
)

var catalog = map[string]Definition{
	TotalRevenue:                {Kinds: sales, Description: "Sum of sale revenue"},
	TotalSalesProfit:            {Kinds: sales, Description: "Sum of sale profit"},
	TotalWebsiteVisits:          {Kinds: visits, Description: "Number of visits"},
	UniqueVisitors:              {Kinds: visits, Description: "Number of distinct visitor IPs"},
	LeadsGenerated:              {Kinds: leads, Description: "Number of leads"},
	DemoRequests:                {Kinds: visits, Description: "Number of visits to /demo"},
	ProfitPerSalesperson:        {Kinds: sales, Description: "Profit per salesperson, highest first"},
	ProfitPerProduct:            {Kinds: sales, Description: "Profit per product, highest first"},
	SalesPerCountry:             {Kinds: sales, Description: "Revenue per country, highest first"},
	ProductSalesPerCountry:      {Kinds: sales, Description: "Revenue per country and product, highest first"},
	LeadsBySource:               {Kinds: leads, Description: "Leads per source, most first"},
	LeadsByStatus:               {Kinds: leads, Description: "Leads per status, most first"},
	RevenueProfitPerSalesperson: {Kinds: sales, Description: "Revenue and profit per salesperson, by revenue"},
	RevenueProfitPerProduct:     {Kinds: sales, Description: "Revenue and profit per product, by revenue"},
	BestSalesperson:             {Kinds: sales, Description: "Salesperson with the highest revenue"},
	MostSoldProduct:             {Kinds: sales, Description: "Product with the highest revenue"},
	ConversionRate:              {Kinds: salesLeads, Description: "Sales per lead as a percentage, capped at 100"},
	LeadConversionRate:          {Kinds: leads, Description: "Closed leads as a percentage of all leads"},
	LeadsByDay:                  {Kinds: leads, Description: "Leads per UTC calendar day, oldest first"},
	TopLandingPages:             {Kinds: visits, Description: "Most visited endpoints", Limited: true},
}

func init() {
	for name, d := range catalog {
		d.Name = name
		catalog[name] = d
	}
}

// Lookup returns the definition of name.
func Lookup(name string) (Definition, bool) {
	d, ok := catalog[name]
	return d, ok
}

// Catalog returns every definition sorted by name.
func Catalog() []Definition {
	out := make([]Definition, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
