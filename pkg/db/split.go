package db

import "strings"

// SplitStatements splits a semicolon-delimited SQL script into individual
// statements. Semicolons inside quoted strings, quoted identifiers and
// comments do not terminate a statement. Comments are dropped and empty
// statements are skipped.
func SplitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		quote   rune
	)

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}

		current.Reset()
	}

	runes := []rune(script)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			current.WriteRune(r)

			if r == quote {
				quote = 0
			}

			continue
		}

		switch {
		case r == '\'' || r == '"' || r == '`':
			quote = r
			current.WriteRune(r)
		case r == '[':
			quote = ']'
			current.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

			current.WriteRune('\n')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}

			i++
			current.WriteRune(' ')
		case r == ';':
			flush()
		default:
			current.WriteRune(r)
		}
	}

	flush()

	return stmts
}
