package engine

import (
	"fmt"
	"strings"

	"github.com/eldtechnologies/supportbot/internal/models"
)

// IntentRule maps an intent to the words that select it.
type IntentRule struct {
	Intent   models.Intent
	Triggers []string
}

// DefaultRules is the intent table. Order matters: the first rule with a
// matching trigger wins.
var DefaultRules = []IntentRule{
	{Intent: models.IntentReceipt, Triggers: []string{"account", "bank", "receipt"}},
	{Intent: models.IntentChipStatus, Triggers: []string{"chip", "machine"}},
	{Intent: models.IntentZipCode, Triggers: []string{"zip", "address", "home"}},
	{Intent: models.IntentSales, Triggers: []string{"sale"}},
	{Intent: models.IntentTransactions, Triggers: []string{"transaction"}},
	{Intent: models.IntentTracking, Triggers: []string{"track"}},
}

// identifierLabels names the identifier each intent waits for.
var identifierLabels = map[models.Intent]string{
	models.IntentTracking:     "Sale ID",
	models.IntentZipCode:      "Zip Code",
	models.IntentChipStatus:   "Chip ID",
	models.IntentSales:        "Sale ID",
	models.IntentTransactions: "Transaction ID",
	models.IntentReceipt:      "Merchant ID",
}

// IdentifierLabel returns the human name of the identifier for intent.
func IdentifierLabel(intent models.Intent) string {
	if l, ok := identifierLabels[intent]; ok {
		return l
	}
	return "identifier"
}

// Classify returns the first intent whose triggers occur in body, ignoring
// case.
func Classify(rules []IntentRule, body string) (models.Intent, bool) {
	lower := strings.ToLower(body)
	for _, rule := range rules {
		for _, word := range rule.Triggers {
			if strings.Contains(lower, strings.ToLower(word)) {
				return rule.Intent, true
			}
		}
	}
	return "", false
}

// Menu lists every intent as a numbered option.
func Menu(rules []IntentRule) string {
	var b strings.Builder
	b.WriteString("For better service delivery, please choose an option from the following options\n")
	for i, rule := range rules {
		fmt.Fprintf(&b, "\n%d. %s", i+1, models.Label(string(rule.Intent)))
	}
	return b.String()
}

// Prompt asks for the identifier of intent.
func Prompt(intent models.Intent) string {
	return "Please provide your " + IdentifierLabel(intent)
}

// Reprompt asks for the identifier again after a failed lookup.
func Reprompt(intent models.Intent) string {
	return fmt.Sprintf("Oops!! We fear that you may have entered incorrect identifier\nCarefully re-enter correct %s\n",
		IdentifierLabel(intent))
}
