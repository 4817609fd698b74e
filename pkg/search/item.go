package search

import (
	"net/url"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
)

// Type tags the entity a result came from.
type Type string

const (
	TypeLead     Type = "lead"
	TypeSupplier Type = "supplier"
	TypeDocument Type = "document"
	TypeActivity Type = "activity"
)

// ActionKind says how a result is opened.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionExternal ActionKind = "external"
)

// ExternalFeatures are the window features used for external links.
const ExternalFeatures = "noopener,noreferrer"

// Action is what selecting a result does.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Path is the in-app route for ActionNavigate.
	Path string `json:"path,omitempty"`
	// URL, Target and Features describe an ActionExternal new window.
	URL      string `json:"url,omitempty"`
	Target   string `json:"target,omitempty"`
	Features string `json:"features,omitempty"`
}

// Item is one search result.
type Item struct {
	Key      string `json:"key"`
	Type     Type   `json:"type"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Action   Action `json:"action"`
}

func navigate(section, id string) Action {
	path := "/" + section
	if id != "" {
		path += "?id=" + url.QueryEscape(id)
	}
	return Action{Kind: ActionNavigate, Path: path}
}

func newItem(typ Type, row gateway.Row, title, fallback string) Item {
	if title == "" {
		title = fallback
	}
	id := row.ID()
	return Item{
		Key:   string(typ) + "-" + id + "-" + title,
		Type:  typ,
		ID:    id,
		Title: title,
	}
}

func leadItem(row gateway.Row) Item {
	it := newItem(TypeLead, row, row.String("name"), "Unnamed lead")
	it.Subtitle = row.String("phone")
	it.Action = navigate("leads", it.ID)
	return it
}

func supplierItem(row gateway.Row) Item {
	it := newItem(TypeSupplier, row, row.String("name"), "Supplier")
	it.Action = navigate("suppliers", it.ID)
	return it
}

func documentItem(row gateway.Row) Item {
	it := newItem(TypeDocument, row, row.String("name"), "Document")
	if link := row.String("url", "file_url", "public_url"); link != "" {
		it.Subtitle = "Open file"
		it.Action = Action{Kind: ActionExternal, URL: link, Target: "_blank", Features: ExternalFeatures}
		return it
	}
	it.Action = navigate("documents", it.ID)
	return it
}

func activityItem(row gateway.Row) Item {
	it := newItem(TypeActivity, row, row.String("title", "subject"), "Activity")
	it.Action = navigate("activities", it.ID)
	return it
}
