package sqldb

import (
	"strings"
	"unicode"

	"wikichat/internal/domain"
)

var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true,
	"RENAME": true, "GRANT": true, "REVOKE": true, "ATTACH": true, "DETACH": true,
	"PRAGMA": true, "VACUUM": true, "REINDEX": true, "COPY": true, "CALL": true,
	"EXEC": true, "EXECUTE": true, "LOCK": true, "INTO": true,
}

// checkReadOnly accepts a single SELECT or WITH statement that contains no
// data- or schema-modifying keywords outside string literals. It returns the
// statement without its trailing semicolon.
func checkReadOnly(stmt string) (string, error) {
	const op = "sqldb.checkReadOnly"

	stmt = strings.TrimSpace(stmt)
	stmt = strings.TrimSpace(strings.TrimRight(stmt, "; \n\t"))
	if stmt == "" {
		return "", domain.NewSubSystemError("sqldb", op, domain.ErrInvalidInput, "empty statement")
	}

	words, multi := sqlWords(stmt)
	if multi {
		return "", domain.NewSubSystemError("sqldb", op, domain.ErrReadOnlyQuery, "multiple statements")
	}
	if len(words) == 0 || (words[0] != "SELECT" && words[0] != "WITH") {
		return "", domain.NewSubSystemError("sqldb", op, domain.ErrReadOnlyQuery, "statement must start with SELECT or WITH")
	}
	for _, w := range words {
		if writeKeywords[w] {
			return "", domain.NewSubSystemError("sqldb", op, domain.ErrReadOnlyQuery, "forbidden keyword "+w)
		}
	}
	return stmt, nil
}

// sqlWords returns the upper-cased bare words of stmt, skipping quoted
// strings, quoted identifiers and comments. multi reports a ';' outside them.
func sqlWords(stmt string) (words []string, multi bool) {
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToUpper(cur.String()))
			cur.Reset()
		}
	}

	rs := []rune(stmt)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			flush()
			for i++; i < len(rs); i++ {
				if rs[i] == r {
					if i+1 < len(rs) && rs[i+1] == r {
						i++
						continue
					}
					break
				}
			}
		case r == '-' && i+1 < len(rs) && rs[i+1] == '-':
			flush()
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(rs) && rs[i+1] == '*':
			flush()
			for i += 2; i+1 < len(rs) && !(rs[i] == '*' && rs[i+1] == '/'); i++ {
			}
			i++
		case r == ';':
			flush()
			multi = true
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words, multi
}

// looksLikeSQL reports whether text is already a SELECT or WITH statement.
func looksLikeSQL(text string) bool {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return false
	}
	first := strings.ToUpper(fields[0])
	return first == "SELECT" || first == "WITH"
}
