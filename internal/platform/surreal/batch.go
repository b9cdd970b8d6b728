package surreal

import (
	"fmt"
	"regexp"
	"strings"
)

// varPattern находит ссылки на переменные SurrealQL ($name).
var varPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Batch накапливает операторы транзакции и переименовывает их переменные,
// чтобы одинаковые имена из разных операторов не конфликтовали:
// $email в первом операторе становится $s1_email, во втором - $s2_email.
type Batch struct {
	statements []string
	vars       map[string]any
}

// NewBatch создаёт пустой пакет.
func NewBatch() *Batch {
	return &Batch{vars: make(map[string]any)}
}

// Add добавляет оператор. Переименовываются только переменные из vars,
// встроенные ($this, $parent, $auth) остаются как есть.
func (b *Batch) Add(query string, vars map[string]any) {
	n := len(b.statements) + 1

	local := make(map[string]string, len(vars))
	for name, value := range vars {
		name = strings.TrimLeft(name, "$")
		renamed := fmt.Sprintf("s%d_%s", n, name)
		local[name] = renamed
		b.vars[renamed] = value
	}

	rewritten := varPattern.ReplaceAllStringFunc(query, func(ref string) string {
		if renamed, ok := local[ref[1:]]; ok {
			return "$" + renamed
		}
		return ref
	})
	b.statements = append(b.statements, rewritten)
}

// Len возвращает количество операторов.
func (b *Batch) Len() int { return len(b.statements) }

// Reset очищает пакет.
func (b *Batch) Reset() {
	b.statements = nil
	b.vars = make(map[string]any)
}

// Build возвращает текст транзакции и объединённые переменные.
// Для пустого пакета возвращает пустую строку.
func (b *Batch) Build() (string, map[string]any) {
	if len(b.statements) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;\n")
	for _, stmt := range b.statements {
		stmt = strings.TrimSpace(stmt)
		sb.WriteString(stmt)
		if !strings.HasSuffix(stmt, ";") {
			sb.WriteString(";")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("COMMIT TRANSACTION;")

	return sb.String(), b.vars
}
