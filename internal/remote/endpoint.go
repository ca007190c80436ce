package remote

// Endpoint names one resource of the remote bookkeeping API.
type Endpoint string

const (
	EndpointTransactions    Endpoint = "transactions"
	EndpointAdvisor         Endpoint = "advisor"
	EndpointIncomeStatement Endpoint = "income-statement"
	EndpointAudit           Endpoint = "audit"
)

// Path returns the request path of the endpoint, e.g. /api/transactions.
func (e Endpoint) Path() string {
	return "/api/" + string(e)
}

func (e Endpoint) String() string {
	return string(e)
}
