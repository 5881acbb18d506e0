package status

// Cache keys shared by the poller (writer) and the query surface (reader).
const (
	KeyPrSummary       = "pr_summary"
	KeyPrList          = "pr_list"
	KeyIncidentSummary = "incident_summary"
	KeyIncidentList    = "incident_list"

	// KeyTicketSearchPrefix prefixes per-query ticket search entries; the
	// full key is the prefix plus the query's cache key.
	KeyTicketSearchPrefix = "ticket_search:"
)
