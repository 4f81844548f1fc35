// Package techs holds the fixed catalog of broadband technology codes.
package techs

import (
	"slices"
	"strconv"
	"strings"
)

type Technology struct {
	Code       string `json:"code"`
	ShortLabel string `json:"short_label"`
	Label      string `json:"label"`
	Color      string `json:"color"`
	// Probe marks parent codes the tile service accepts; sub-codes and
	// mobile/DSL variants are rejected upstream with an error status.
	Probe bool `json:"-"`
}

var catalog = []Technology{
	{Code: "0", ShortLabel: "Other", Label: "Other", Color: "#9E9E9E"},
	{Code: "10", ShortLabel: "DSL", Label: "Copper Wire", Color: "#8D6E63"},
	{Code: "40", ShortLabel: "Cable", Label: "Cable", Color: "#1E88E5", Probe: true},
	{Code: "50", ShortLabel: "Fiber", Label: "Fiber to the Premises", Color: "#43A047", Probe: true},
	{Code: "60", ShortLabel: "GSO", Label: "Geostationary Satellite", Color: "#FB8C00", Probe: true},
	{Code: "61", ShortLabel: "NGSO", Label: "Non-geostationary Satellite", Color: "#F4511E", Probe: true},
	{Code: "70", ShortLabel: "Fixed Wireless", Label: "Unlicensed Terrestrial Fixed Wireless", Color: "#8E24AA", Probe: true},
	{Code: "71", ShortLabel: "Licensed FW", Label: "Licensed Terrestrial Fixed Wireless", Color: "#5E35B1"},
	{Code: "72", ShortLabel: "LBR FW", Label: "Licensed-by-Rule Terrestrial Fixed Wireless", Color: "#3949AB"},
	{Code: "300", ShortLabel: "3G", Label: "3G Mobile", Color: "#00ACC1"},
	{Code: "400", ShortLabel: "4G", Label: "4G LTE Mobile", Color: "#00897B"},
	{Code: "500", ShortLabel: "5G", Label: "5G-NR Mobile", Color: "#D81B60"},
}

var byCode = func() map[string]Technology {
	m := make(map[string]Technology, len(catalog))
	for _, t := range catalog {
		m[t.Code] = t
	}
	return m
}()

// Normalize trims whitespace and leading zeros so "050" and "50" match.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if n, err := strconv.Atoi(code); err == nil && n >= 0 {
		return strconv.Itoa(n)
	}
	return code
}

func Lookup(code string) (Technology, bool) {
	t, ok := byCode[Normalize(code)]
	return t, ok
}

func All() []Technology {
	return slices.Clone(catalog)
}

// ProbeCodes returns the parent codes valid against the tile service, ascending.
func ProbeCodes() []string {
	out := make([]string, 0, len(catalog))
	for _, t := range catalog {
		if t.Probe {
			out = append(out, t.Code)
		}
	}
	SortCodes(out)
	return out
}

// SortCodes sorts codes ascending by numeric value, non-numeric codes last.
func SortCodes(codes []string) {
	slices.SortFunc(codes, func(a, b string) int {
		na, errA := strconv.Atoi(a)
		nb, errB := strconv.Atoi(b)
		switch {
		case errA == nil && errB == nil:
			return na - nb
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
}
