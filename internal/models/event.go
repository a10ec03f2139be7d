package models

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// Kind identifies one of the three event tables.
type Kind string

const (
	KindVisit Kind = "visit"
	KindSale  Kind = "sale"
	KindLead  Kind = "lead"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{KindVisit, KindSale, KindLead}

// Valid reports whether k names a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindVisit, KindSale, KindLead:
		return true
	}
	return false
}

// Lead statuses.
const (
	LeadNew       = "New"
	LeadContacted = "Contacted"
	LeadClosed    = "Closed"
)

// KnownStatusCodes is the set of HTTP status codes a Visit may carry.
var KnownStatusCodes = map[int]bool{
	200: true, 201: true, 400: true, 401: true, 403: true, 404: true, 500: true,
}

// Record is any stored event row.
type Record interface {
	EventKind() Kind
	Validate() error
}

// Visit is one web request observed on the public site.
// Country is empty until the enrichment pass fills it.
type Visit struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	IP             string    `json:"ip"`
	Country        string    `json:"country,omitempty"`
	Endpoint       string    `json:"endpoint"`
	HTTPMethod     string    `json:"http_method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMS int       `json:"response_time_ms"`
	UserAgent      string    `json:"user_agent"`
}

func (Visit) EventKind() Kind { return KindVisit }

func (v Visit) Validate() error {
	if !KnownStatusCodes[v.StatusCode] {
		return fmt.Errorf("visit: unknown status code %d", v.StatusCode)
	}
	if v.ResponseTimeMS <= 0 {
		return errors.New("visit: response_time_ms must be positive")
	}
	if v.IP == "" || v.Endpoint == "" {
		return errors.New("visit: ip and endpoint required")
	}
	if _, err := netip.ParseAddr(v.IP); err != nil {
		return fmt.Errorf("visit: invalid ip %q", v.IP)
	}
	return nil
}

// Sale is one closed transaction.
//
// Profit is expected to stay at or below Revenue but this is not enforced:
// historical data may violate it.
type Sale struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Product     string    `json:"product"`
	Salesperson string    `json:"salesperson"`
	Revenue     float64   `json:"revenue"`
	Profit      float64   `json:"profit"`
	Country     string    `json:"country"`
	Endpoint    string    `json:"endpoint"`
}

func (Sale) EventKind() Kind { return KindSale }

func (s Sale) Validate() error {
	if s.Revenue < 0 {
		return errors.New("sale: revenue must not be negative")
	}
	if s.Product == "" || s.Salesperson == "" {
		return errors.New("sale: product and salesperson required")
	}
	return nil
}

// Lead is one captured prospect.
type Lead struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	LeadSource string    `json:"lead_source"`
	LeadStatus string    `json:"lead_status"`
}

func (Lead) EventKind() Kind { return KindLead }

func (l Lead) Validate() error {
	switch l.LeadStatus {
	case LeadNew, LeadContacted, LeadClosed:
	default:
		return fmt.Errorf("lead: unknown status %q", l.LeadStatus)
	}
	if l.LeadSource == "" {
		return errors.New("lead: lead_source required")
	}
	return nil
}
