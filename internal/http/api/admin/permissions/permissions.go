// Package permissions lists the admin API permission keys.
package permissions

import "strings"

// Definition describes one permission-guarded admin route.
type Definition struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Module string `json:"module"`
	Label  string `json:"label"`
}

func def(method, path, module, label string) Definition {
	return Definition{Key: Key(method, path), Method: method, Path: path, Module: module, Label: label}
}

var definitions = []Definition{
	def("POST", "/v0/admin/commissions/apply", "Commissions", "Apply purchase commission"),
	def("GET", "/v0/admin/members/:id/earnings", "Commissions", "List member earnings"),

	def("GET", "/v0/admin/integrity/report", "Integrity", "View integrity report"),
	def("GET", "/v0/admin/integrity/report.csv", "Integrity", "Export integrity report"),
	def("POST", "/v0/admin/integrity/scans", "Integrity", "Start integrity scan"),
	def("GET", "/v0/admin/integrity/scans/:task_id", "Integrity", "View integrity scan"),

	def("GET", "/v0/admin/members/:id/ancestors", "Members", "View upline"),
	def("GET", "/v0/admin/members/:id/downline", "Members", "View downline"),
	def("GET", "/v0/admin/members/:id/ledger", "Members", "View ledger"),
	def("PUT", "/v0/admin/members/:id/referrer", "Members", "Change referrer"),

	def("GET", "/v0/admin/withdrawals", "Withdrawals", "List withdrawals"),
	def("POST", "/v0/admin/withdrawals/:id/approve", "Withdrawals", "Approve withdrawal"),
	def("POST", "/v0/admin/withdrawals/:id/reject", "Withdrawals", "Reject withdrawal"),
	def("POST", "/v0/admin/withdrawals/:id/processing", "Withdrawals", "Mark withdrawal processing"),

	def("POST", "/v0/admin/transfers/credit", "Transfers", "Issue admin credit"),

	def("GET", "/v0/admin/packages", "Packages", "List packages"),
	def("POST", "/v0/admin/packages", "Packages", "Create package"),
	def("PUT", "/v0/admin/packages/:id", "Packages", "Update package"),
	def("GET", "/v0/admin/package-requests", "Packages", "List package requests"),
	def("POST", "/v0/admin/package-requests/:id/approve", "Packages", "Approve package request"),
	def("POST", "/v0/admin/package-requests/:id/reject", "Packages", "Reject package request"),

	def("GET", "/v0/admin/settings", "Settings", "View settings"),
	def("PUT", "/v0/admin/settings", "Settings", "Update settings"),

	def("GET", "/v0/admin/permissions", "Settings", "List permissions"),
}

// Key builds a permission key from an HTTP method and a gin route pattern.
func Key(method, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(path)
}

// Definitions returns all permission definitions.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// DefinitionMap indexes Definitions by key.
func DefinitionMap() map[string]Definition {
	out := make(map[string]Definition, len(definitions))
	for _, d := range definitions {
		out[d.Key] = d
	}
	return out
}

// HasPermission reports whether granted contains key. A "*" entry grants everything.
func HasPermission(granted []string, key string) bool {
	for _, g := range granted {
		g = strings.TrimSpace(g)
		if g == "*" || g == key {
			return true
		}
	}
	return false
}
