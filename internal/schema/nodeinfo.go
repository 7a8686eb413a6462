package schema

import (
	"strconv"
	"strings"
)

// User identifies the role connected to a server.
type User struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

// Server describes the target server of a dialog.
type Server struct {
	ID      int    `json:"id"`
	Version int    `json:"version"`
	Type    string `json:"type"`
	User    User   `json:"user"`
}

// Object identifies one ancestor in the object tree.
type Object struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
}

// NodeInfo is the object tree context a dialog was opened from.
type NodeInfo struct {
	Server   *Server `json:"server,omitempty"`
	Database *Object `json:"database,omitempty"`
	Schema   *Object `json:"schema,omitempty"`
	Table    *Object `json:"table,omitempty"`
}

// Cache levels, ordered from the widest to the narrowest scope.
const (
	LevelServer   = "server"
	LevelDatabase = "database"
	LevelSchema   = "schema"
	LevelTable    = "table"
)

var levelOrder = []string{LevelServer, LevelDatabase, LevelSchema, LevelTable}

// KnownLevel reports whether level is a valid cache level.
func KnownLevel(level string) bool {
	for _, l := range levelOrder {
		if l == level {
			return true
		}
	}
	return false
}

// ScopeIDs returns "level/id" pairs for every ancestor up to and including
// level. An unknown or empty level yields every known ancestor.
func (n *NodeInfo) ScopeIDs(level string) []string {
	if n == nil {
		return nil
	}
	var out []string
	for _, l := range levelOrder {
		if id, ok := n.levelID(l); ok {
			out = append(out, l+"/"+strconv.Itoa(id))
		}
		if l == level {
			break
		}
	}
	return out
}

func (n *NodeInfo) levelID(level string) (int, bool) {
	switch level {
	case LevelServer:
		if n.Server != nil {
			return n.Server.ID, true
		}
	case LevelDatabase:
		if n.Database != nil {
			return n.Database.ID, true
		}
	case LevelSchema:
		if n.Schema != nil {
			return n.Schema.ID, true
		}
	case LevelTable:
		if n.Table != nil {
			return n.Table.ID, true
		}
	}
	return 0, false
}

// Version returns the server version number, or 0 when unknown.
func (n *NodeInfo) Version() int {
	if n == nil || n.Server == nil {
		return 0
	}
	return n.Server.Version
}

// ServerType returns the server flavour ("pg", "ppas", ...).
func (n *NodeInfo) ServerType() string {
	if n == nil || n.Server == nil {
		return ""
	}
	return n.Server.Type
}

// Lookup resolves a dotted path such as "server.user.name".
func (n *NodeInfo) Lookup(path string) (any, bool) {
	if n == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "server":
		if n.Server == nil {
			return nil, false
		}
		if len(parts) == 1 {
			return nil, false
		}
		switch strings.Join(parts[1:], ".") {
		case "id":
			return float64(n.Server.ID), true
		case "version":
			return float64(n.Server.Version), true
		case "type":
			return n.Server.Type, true
		case "user.name":
			return n.Server.User.Name, true
		case "user.id":
			return float64(n.Server.User.ID), true
		}
		return nil, false
	case LevelDatabase, LevelSchema, LevelTable:
		obj := n.object(parts[0])
		if obj == nil || len(parts) != 2 {
			return nil, false
		}
		switch parts[1] {
		case "id":
			return float64(obj.ID), true
		case "name":
			return obj.Name, true
		case "label":
			return obj.Label, true
		}
	}
	return nil, false
}

func (n *NodeInfo) object(level string) *Object {
	switch level {
	case LevelDatabase:
		return n.Database
	case LevelSchema:
		return n.Schema
	case LevelTable:
		return n.Table
	}
	return nil
}
