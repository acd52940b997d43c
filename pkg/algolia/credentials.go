package algolia

// Credentials identify a hosted search application and the index to read.
// They are the same short-lived frontend tokens the directory ships to every
// visitor's browser, captured from its own traffic, never account secrets.
type Credentials struct {
	AppID  string `json:"app_id"`
	APIKey string `json:"api_key"`
	Index  string `json:"index"`
}

// Valid reports whether all three parts were captured.
func (c Credentials) Valid() bool {
	return c.AppID != "" && c.APIKey != "" && c.Index != ""
}
