package workflow

import (
	"time"
)

// Workflow is an authored graph of typed nodes. The engine treats it
// as read-only: authoring happens elsewhere.
type Workflow struct {
	ID          string       `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"not null"`
	Description string       `json:"description"`
	OrgID       string       `json:"orgId" gorm:"index"`
	Nodes       []Node       `json:"nodes" gorm:"serializer:json"`
	Connections []Connection `json:"connections" gorm:"serializer:json"`
	Schedule    string       `json:"schedule"`
	IsActive    bool         `json:"isActive" gorm:"default:false"`
	Version     int          `json:"version" gorm:"default:1"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Node struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Position Position               `json:"position"`
	Config   map[string]interface{} `json:"config"`
}

// Connection is a directed edge. FromPort names the source branch on
// condition and split nodes ("true"/"false" or "A"/"B"); ToPort names
// the input side on join nodes ("A"/"B").
type Connection struct {
	ID       string `json:"id"`
	From     string `json:"fromNodeId"`
	To       string `json:"toNodeId"`
	FromPort string `json:"outputPort,omitempty"`
	ToPort   string `json:"inputPort,omitempty"`
}

// Position is canvas metadata, ignored by the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node type tags. Unknown tags are executed as pass-through.
const (
	TypeTrigger       = "trigger"
	TypeWebhook       = "webhook"
	TypeSchedule      = "schedule"
	TypeManualInput   = "manualInput"
	TypeHTTPRequest   = "httpRequest"
	TypeFetchData     = "fetchData"
	TypeLLM           = "llm"
	TypeCondition     = "condition"
	TypeSplitColumns  = "splitColumns"
	TypeJoin          = "join"
	TypeAddField      = "addField"
	TypeFilter        = "filter"
	TypeHumanApproval = "humanApproval"
	TypeAlert         = "alert"
	TypeSendEmail     = "sendEmail"
	TypeOutput        = "output"
	TypeComment       = "comment"
)

// Branch port names.
const (
	PortTrue    = "true"
	PortFalse   = "false"
	PortA       = "A"
	PortB       = "B"
	PortDefault = ""
)

// IsTriggerType reports whether a node type starts a run and therefore
// accepts no incoming connections.
func IsTriggerType(nodeType string) bool {
	return nodeType == TypeTrigger || nodeType == TypeWebhook || nodeType == TypeSchedule
}

// IsBranchingType reports whether a node routes output through named
// ports.
func IsBranchingType(nodeType string) bool {
	return nodeType == TypeCondition || nodeType == TypeSplitColumns
}
