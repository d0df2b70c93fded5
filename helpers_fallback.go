// hintline/helpers_fallback.go
// Contains the deterministic fallback suggestion generator used whenever a
// remote result is unavailable.
package hintline

import "strings"

// fallbackRule pairs an ordered keyword predicate with its fixed suggestion
// set. Rules are evaluated in slice order and the first match wins; that
// order is the whole dispatch policy.
type fallbackRule struct {
	name        string
	keywords    []string
	suggestions [3]string
}

// fallbackRules is evaluated against the lowercased context text. Keep the
// most specific construct categories first.
var fallbackRules = []fallbackRule{
	{
		name:     "function",
		keywords: []string{"func ", "function ", "function(", "def ", "fn "},
		suggestions: [3]string{
			"return result",
			"// TODO: implement",
			"}",
		},
	},
	{
		name:     "type",
		keywords: []string{"class ", "struct ", "interface ", "type ", "trait "},
		suggestions: [3]string{
			"// fields",
			"constructor()",
			"}",
		},
	},
	{
		name:     "conditional",
		keywords: []string{"if ", "if(", "else ", "else{", "switch ", "case "},
		suggestions: [3]string{
			"return",
			"break",
			"// handle this branch",
		},
	},
	{
		name:     "loop",
		keywords: []string{"for ", "for(", "while ", "while(", "foreach ", "loop "},
		suggestions: [3]string{
			"continue",
			"break",
			"// loop body",
		},
	},
	{
		name:     "import",
		keywords: []string{"import ", "import(", "require(", "#include", "use ", "from "},
		suggestions: [3]string{
			"\"fmt\"",
			"\"os\"",
			"\"strings\"",
		},
	},
	{
		name:     "variable",
		keywords: []string{"var ", "let ", "const ", ":=", "val "},
		suggestions: [3]string{
			"= nil",
			"= 0",
			"= \"\"",
		},
	},
	{
		name:     "print",
		keywords: []string{"print", "console.log", "fmt.", "log.", "puts ", "echo "},
		suggestions: [3]string{
			"(\"%v\\n\", value)",
			"(err)",
			"(\"done\")",
		},
	},
	{
		name:     "errors",
		keywords: []string{"try", "catch", "except", "finally", "recover(", "if err"},
		suggestions: [3]string{
			"!= nil {",
			"return err",
			"// recover and report",
		},
	},
	{
		name:     "collection",
		keywords: []string{".map(", ".filter(", ".reduce(", ".append(", ".push(", "append(", "range "},
		suggestions: [3]string{
			"(item)",
			"(x => x)",
			"// iterate elements",
		},
	},
}

// defaultFallbackSuggestions is returned when no rule matches.
var defaultFallbackSuggestions = [3]string{
	"// continue implementation",
	"return",
	"}",
}

// GenerateFallback produces exactly three deterministic suggestions from the
// raw context text. Pure function: no I/O, never fails, same input always
// yields the same output.
func GenerateFallback(contextText string) []Suggestion {
	lowered := strings.ToLower(contextText)

	set := defaultFallbackSuggestions
	for _, rule := range fallbackRules {
		if rule.matches(lowered) {
			set = rule.suggestions
			break
		}
	}

	out := make([]Suggestion, 0, len(set))
	for _, text := range set {
		out = append(out, makeSuggestion(text))
	}
	return out
}

func (r fallbackRule) matches(loweredContext string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(loweredContext, kw) {
			return true
		}
	}
	return false
}
