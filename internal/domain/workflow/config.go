package workflow

import (
	"encoding/json"
	"fmt"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "notEquals"
	OpContains    = "contains"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
	OpIsEmpty     = "isEmpty"
	OpIsNotEmpty  = "isNotEmpty"
)

// Condition evaluation modes. PerRow partitions records one by one;
// batch routes the whole input set to a single branch.
const (
	ModePerRow = "perRow"
	ModeBatch  = "batch"
)

// Join strategies.
const (
	JoinConcat     = "concat"
	JoinMergeByKey = "mergeByKey"
)

// Merge modes for mergeByKey joins.
const (
	MergeInner = "inner"
	MergeOuter = "outer"
)

type ConditionConfig struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
	Mode     string      `json:"mode"`
}

type SplitColumnsConfig struct {
	ColumnsA []string `json:"columnsA"`
	ColumnsB []string `json:"columnsB"`
}

type JoinConfig struct {
	Strategy  string `json:"strategy"`
	Key       string `json:"key"`
	MergeMode string `json:"mergeMode"`
}

type HTTPRequestConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type LLMConfig struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	OutputField string  `json:"outputField"`
	Temperature float64 `json:"temperature"`
}

type AddFieldConfig struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type FilterConfig struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

type HumanApprovalConfig struct {
	Approvers []string `json:"approvers"`
	Message   string   `json:"message"`
}

type AlertConfig struct {
	Channel  string      `json:"channel"`
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
	Message  string      `json:"message"`
}

type ManualInputConfig struct {
	Records []map[string]interface{} `json:"records"`
}

// DecodeConfig populates dst, a pointer to one of the typed config
// structs, from a node's raw config map.
func DecodeConfig(raw map[string]interface{}, dst interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode node config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode node config: %w", err)
	}
	return nil
}

func validOperator(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan, OpIsEmpty, OpIsNotEmpty:
		return true
	}
	return false
}

// ValidateNodeConfig checks a node's config against its type. Config
// problems are caught here, at graph load, not at execution time.
func ValidateNodeConfig(node Node) error {
	switch node.Type {
	case TypeCondition:
		var cfg ConditionConfig
		if err := DecodeConfig(node.Config, &cfg); err != nil {
			return err
		}
		if cfg.Field == "" {
			return fmt.Errorf("condition node %s: field is required", node.ID)
		}
		if !validOperator(cfg.Operator) {
			return fmt.Errorf("condition node %s: unknown operator %q", node.ID, cfg.Operator)
		}
		if cfg.Mode != "" && cfg.Mode != ModePerRow && cfg.Mode != ModeBatch {
			return fmt.Errorf("condition node %s: unknown mode %q", node.ID, cfg.Mode)
		}
	case TypeFilter:
		var cfg FilterConfig
		if err := DecodeConfig(node.Config, &cfg); err != nil {
			return err
		}
		if cfg.Field == "" {
			return fmt.Errorf("filter node %s: field is required", node.ID)
		}
		if !validOperator(cfg.Operator) {
			return fmt.Errorf("filter node %s: unknown operator %q", node.ID, cfg.Operator)
		}
	case TypeJoin:
		var cfg JoinConfig
		if err := DecodeConfig(node.Config, &cfg); err != nil {
			return err
		}
		switch cfg.Strategy {
		case "", JoinConcat:
		case JoinMergeByKey:
			if cfg.Key == "" {
				return fmt.Errorf("join node %s: mergeByKey requires a key", node.ID)
			}
			if cfg.MergeMode != "" && cfg.MergeMode != MergeInner && cfg.MergeMode != MergeOuter {
				return fmt.Errorf("join node %s: unknown merge mode %q", node.ID, cfg.MergeMode)
			}
		default:
			return fmt.Errorf("join node %s: unknown strategy %q", node.ID, cfg.Strategy)
		}
	case TypeSplitColumns:
		var cfg SplitColumnsConfig
		if err := DecodeConfig(node.Config, &cfg); err != nil {
			return err
		}
		if len(cfg.ColumnsA) == 0 && len(cfg.ColumnsB) == 0 {
			return fmt.Errorf("splitColumns node %s: at least one column set is required", node.ID)
		}
	case TypeHTTPRequest, TypeFetchData:
		var cfg HTTPRequestConfig
		if err := DecodeConfig(node.Config, &cfg); err != nil {
			return err
		}
		if cfg.URL == "" {
			return fmt.Errorf("%s node %s: url is required", node.Type, node.ID)
		}
	case TypeAddField:
		var cfg AddFieldConfig
		if err := DecodeConfig(node.Config, &cfg); err != nil {
			return err
		}
		if cfg.Name == "" {
			return fmt.Errorf("addField node %s: name is required", node.ID)
		}
	case TypeAlert:
		var cfg AlertConfig
		if err := DecodeConfig(node.Config, &cfg); err != nil {
			return err
		}
		if cfg.Field != "" && !validOperator(cfg.Operator) {
			return fmt.Errorf("alert node %s: unknown operator %q", node.ID, cfg.Operator)
		}
	}
	return nil
}
