package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReportType identifies a regulatory report family.
type ReportType string

const (
	ReportAMLOCTR ReportType = "AMLO-1-01" // cash transaction report
	ReportAMLOATR ReportType = "AMLO-1-02" // asset transaction report
	ReportAMLOSTR ReportType = "AMLO-1-03" // suspicious transaction report

	ReportBOTBuyFX   ReportType = "BOT_BuyFX"
	ReportBOTSellFX  ReportType = "BOT_SellFX"
	ReportBOTFCD     ReportType = "BOT_FCD"
	ReportBOTProvide ReportType = "BOT_Provider"
)

// AMLOFamilies lists the report families checked on every customer transaction.
func AMLOFamilies() []ReportType {
	return []ReportType{ReportAMLOCTR, ReportAMLOATR, ReportAMLOSTR}
}

// BOTFamilies lists the BOT families checked on customer transactions.
// BOT_Provider is excluded: it covers branch balance adjustments, not
// customer exchanges.
func BOTFamilies() []ReportType {
	return []ReportType{ReportBOTBuyFX, ReportBOTSellFX, ReportBOTFCD}
}

// IsBOT reports whether the family requires a USD-equivalent figure.
func (t ReportType) IsBOT() bool {
	switch t {
	case ReportBOTBuyFX, ReportBOTSellFX, ReportBOTFCD, ReportBOTProvide:
		return true
	}
	return false
}

// Message is the three-way localized text carried on rules and errors.
type Message struct {
	CN string `json:"cn"`
	EN string `json:"en"`
	TH string `json:"th"`
}

// In returns the text for a language hint, falling back to English.
func (m Message) In(lang string) string {
	switch lang {
	case "cn":
		if m.CN != "" {
			return m.CN
		}
	case "th":
		if m.TH != "" {
			return m.TH
		}
	}
	return m.EN
}

// Logic joins child conditions of a rule group.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Comparison operators for rule atoms.
const (
	OpEq      = "=="
	OpNeq     = "!="
	OpGt      = ">"
	OpGte     = ">="
	OpLt      = "<"
	OpLte     = "<="
	OpIn      = "in"
	OpNotIn   = "not_in"
	OpBetween = "between"
)

// RuleNode is the tagged-variant rule tree: a node is either a group
// (Logic + Conditions) or an atom (Field + Operator + Value), never both.
// UnmarshalJSON enforces the shape so a malformed rule can never default
// to matching.
type RuleNode struct {
	Logic      Logic       `json:"logic,omitempty"`
	Conditions []*RuleNode `json:"conditions,omitempty"`

	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// IsGroup reports whether the node is a logic group.
func (n *RuleNode) IsGroup() bool {
	return n.Logic != ""
}

type ruleNodeAlias RuleNode

// UnmarshalJSON rejects nodes that are neither a valid group nor a valid atom.
func (n *RuleNode) UnmarshalJSON(data []byte) error {
	var alias ruleNodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	if alias.Logic != "" {
		if alias.Logic != LogicAnd && alias.Logic != LogicOr {
			return fmt.Errorf("rule node: unknown logic %q", alias.Logic)
		}
		if alias.Field != "" || alias.Operator != "" {
			return fmt.Errorf("rule node: group carries atom fields")
		}
		if len(alias.Conditions) == 0 {
			return fmt.Errorf("rule node: group has no conditions")
		}
	} else {
		if alias.Field == "" {
			return fmt.Errorf("rule node: missing field")
		}
		if alias.Operator == "" {
			return fmt.Errorf("rule node: missing operator")
		}
		if len(alias.Conditions) > 0 {
			return fmt.Errorf("rule node: atom carries conditions")
		}
	}

	*n = RuleNode(alias)
	return nil
}

// TriggerRule is a persisted rule row for one report family. A nil BranchID
// means the rule is global; branch rows only apply to their branch.
type TriggerRule struct {
	ID            int64      `json:"id"`
	ReportType    ReportType `json:"report_type"`
	Name          string     `json:"name"`
	Priority      int        `json:"priority"`
	IsActive      bool       `json:"is_active"`
	BranchID      *string    `json:"branch_id,omitempty"`
	Expression    *RuleNode  `json:"expression"`
	AllowContinue bool       `json:"allow_continue"`
	Message       Message    `json:"message"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AtomTrace records one atomic comparison together with the actual fact value.
type AtomTrace struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Actual   any    `json:"actual"`
}

// Trace is the matched/unmatched breakdown of one rule evaluation.
type Trace struct {
	Matched   []AtomTrace `json:"matched"`
	Unmatched []AtomTrace `json:"unmatched"`
}

// RuleTrace pairs a rule with its evaluation outcome, kept for diagnostics
// even when the rule did not win.
type RuleTrace struct {
	RuleID   int64  `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Matched  bool   `json:"matched"`
	Skipped  bool   `json:"skipped,omitempty"`
	Trace    *Trace `json:"trace,omitempty"`
}

// Decision is the coordinator's verdict for one report family. It is a pure
// function of the rule snapshot and the fact; the coordinator performs no
// writes.
type Decision struct {
	ReportType    ReportType  `json:"report_type"`
	Triggered     bool        `json:"triggered"`
	RuleID        int64       `json:"rule_id,omitempty"`
	RuleName      string      `json:"rule_name,omitempty"`
	Priority      int         `json:"priority,omitempty"`
	AllowContinue bool        `json:"allow_continue"`
	Message       Message     `json:"message,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Trace         *Trace      `json:"trace,omitempty"`
	Evaluated     []RuleTrace `json:"evaluated,omitempty"`
}
