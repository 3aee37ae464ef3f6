// Package intent decides which output modality handles a message and whether
// the message refines the session's last result.
//
// Classification never fails: any internal error degrades to a text result
// carrying the raw message. The session is read, never written.
//
// Usage:
//
//	rules := intent.NewRuleSet(intent.RulesFromConfig(cfg.Intent.Rules))
//	classifier := intent.NewLLMClassifier(structured, rules, intent.LLMOptions{})
//	result := classifier.Classify(ctx, "make it brighter", snapshot)
package intent
