package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVisit_Validate(t *testing.T) {
	valid := Visit{
		Timestamp:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		IP:             "81.2.69.142",
		Endpoint:       "/home",
		HTTPMethod:     "GET",
		StatusCode:     200,
		ResponseTimeMS: 150,
		UserAgent:      "curl/7.64.1",
	}
	assert.NoError(t, valid.Validate())

	ipv6 := valid
	ipv6.IP = "2001:db8::1"
	assert.NoError(t, ipv6.Validate())

	cases := map[string]func(v *Visit){
		"missing ip":       func(v *Visit) { v.IP = "" },
		"unparseable ip":   func(v *Visit) { v.IP = "not-an-ip" },
		"truncated ip":     func(v *Visit) { v.IP = "10.0.0" },
		"missing endpoint": func(v *Visit) { v.Endpoint = "" },
		"unknown status":   func(v *Visit) { v.StatusCode = 418 },
		"zero latency":     func(v *Visit) { v.ResponseTimeMS = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			v := valid
			mutate(&v)
			assert.Error(t, v.Validate())
		})
	}
}
