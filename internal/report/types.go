package report

// Body is the published report: a Discord embed object.
//
// JSON tags follow the Discord webhook API; the struct is sent as-is.
type Body struct {
	Author      *Author `json:"author,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields"`
	Footer      *Footer `json:"footer,omitempty"`
}

type Author struct {
	Name string `json:"name"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Footer struct {
	Text string `json:"text"`
}
