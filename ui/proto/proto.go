// Package proto implements the text serialization formats exchanged
// between a server and the connector client.
//
// Update format, server to client (line-oriented, deterministic,
// diff-friendly):
//
//	sync <uint64>
//	root <id>
//	node <id> <type>
//	prop <id> <k>=<v> <k>=<v> ...
//	unset <id> <k> <k> ...
//	child <parent> [<child>]
//	rpc <id> <interface> <method> <k>=<v> ...
//
// A node line creates a connector. Prop lines carry changed state
// properties; dotted keys address nested state. Unset lines name
// properties the server no longer sets, which return to their default
// value. Child lines replace the
// child list of the parent they name, in order; a bare "child <parent>"
// clears it. Rpc lines are server-to-client method calls.
//
// Call batch format, client to server:
//
//	sync <uint64>
//	call <id> <interface> <method> <k>=<v> ...
//
// String escaping: values containing spaces, tabs, newlines, or
// backslashes are quoted with double quotes. Inside quotes,
// \n, \t, \\, and \" are recognized escapes.
package proto

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/elizafairlady/go-uiconn/ui/rpc"
)

// Update is one server message.
type Update struct {
	Sync uint64
	Root string

	// Order lists every connector id the update mentions, in order of
	// first mention.
	Order []string

	Types    map[string]string            // id -> type, from node lines
	Props    map[string]map[string]string // id -> changed properties
	Unset    map[string][]string          // id -> properties back to default
	Children map[string][]string          // parent -> child ids, present only if given

	RPC []*rpc.Invocation
}

// NewUpdate returns an empty update.
func NewUpdate(sync uint64) *Update {
	return &Update{
		Sync:     sync,
		Types:    make(map[string]string),
		Props:    make(map[string]map[string]string),
		Unset:    make(map[string][]string),
		Children: make(map[string][]string),
	}
}

func (u *Update) mention(id string) {
	if _, ok := u.Types[id]; ok {
		return
	}
	if _, ok := u.Props[id]; ok {
		return
	}
	if _, ok := u.Unset[id]; ok {
		return
	}
	if _, ok := u.Children[id]; ok {
		return
	}
	u.Order = append(u.Order, id)
}

// AddNode declares a new connector.
func (u *Update) AddNode(id, typ string) *Update {
	u.mention(id)
	u.Types[id] = typ
	return u
}

// SetProp records a changed state property.
func (u *Update) SetProp(id, k, v string) *Update {
	u.mention(id)
	props := u.Props[id]
	if props == nil {
		props = make(map[string]string)
		u.Props[id] = props
	}
	props[k] = v
	return u
}

// UnsetProp records a property that returns to its default value.
func (u *Update) UnsetProp(id, k string) *Update {
	u.mention(id)
	if !slices.Contains(u.Unset[id], k) {
		u.Unset[id] = append(u.Unset[id], k)
	}
	return u
}

// SetChildren replaces the child list of parent.
func (u *Update) SetChildren(parent string, children ...string) *Update {
	u.mention(parent)
	u.Children[parent] = append([]string{}, children...)
	return u
}

// AddRPC appends a server-to-client call.
func (u *Update) AddRPC(inv *rpc.Invocation) *Update {
	u.RPC = append(u.RPC, inv)
	return u
}

// Batch is one client message: the calls queued since the last flush.
type Batch struct {
	Sync  uint64
	Calls []*rpc.Invocation
}

// --- Escaping ---

// needsQuote reports whether the string needs quoting.
func needsQuote(s string) bool {
	if len(s) == 0 {
		return true
	}
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' || c == '\\' || c == '"' || c == '=' {
			return true
		}
	}
	return false
}

// EscapeValue encodes a string for the protocol, quoting if necessary.
func EscapeValue(s string) string {
	if !needsQuote(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range s {
		switch c {
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// UnescapeValue decodes a possibly-quoted protocol string.
func UnescapeValue(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			default:
				b.WriteByte(s[i])
				b.WriteByte(s[i+1])
			}
			i++
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// --- KV parsing ---

// FormatKV formats a key=value pair with proper escaping.
func FormatKV(k, v string) string {
	return k + "=" + EscapeValue(v)
}

// ParseKV parses a key=value token. Returns key, value, ok.
func ParseKV(token string) (string, string, bool) {
	eq := strings.IndexByte(token, '=')
	if eq < 0 {
		return "", "", false
	}
	k := token[:eq]
	v := UnescapeValue(token[eq+1:])
	return k, v, true
}

// --- Tokenization ---

// Tokenize splits a line into space-separated tokens, respecting
// quoted strings. Returns the tokens.
func Tokenize(line string) []string {
	var tokens []string
	i := 0
	for i < len(line) {
		// Skip whitespace
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			break
		}
		if line[i] == '"' {
			// Quoted string: find matching close quote
			j := i + 1
			for j < len(line) {
				if line[j] == '\\' && j+1 < len(line) {
					j += 2
					continue
				}
				if line[j] == '"' {
					j++
					break
				}
				j++
			}
			tokens = append(tokens, line[i:j])
			i = j
		} else {
			// Unquoted token, but handle k="quoted" by looking ahead
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' {
				if line[j] == '"' {
					// Inside a k=v where v is quoted
					j++
					for j < len(line) {
						if line[j] == '\\' && j+1 < len(line) {
							j += 2
							continue
						}
						if line[j] == '"' {
							j++
							break
						}
						j++
					}
					continue
				}
				j++
			}
			tokens = append(tokens, line[i:j])
			i = j
		}
	}
	return tokens
}

// --- Update serialization ---

// SerializeUpdate encodes an update to the text protocol format.
func SerializeUpdate(u *Update) string {
	var b strings.Builder
	fmt.Fprintf(&b, "sync %d\n", u.Sync)
	if u.Root != "" {
		fmt.Fprintf(&b, "root %s\n", u.Root)
	}
	for _, id := range u.Order {
		if typ, ok := u.Types[id]; ok {
			fmt.Fprintf(&b, "node %s %s\n", id, typ)
		}
		if props := u.Props[id]; len(props) > 0 {
			b.WriteString("prop ")
			b.WriteString(id)
			writeKVs(&b, props)
			b.WriteByte('\n')
		}
		if keys := u.Unset[id]; len(keys) > 0 {
			keys = slices.Sorted(slices.Values(keys))
			fmt.Fprintf(&b, "unset %s %s\n", id, strings.Join(keys, " "))
		}
		children, ok := u.Children[id]
		if !ok {
			continue
		}
		if len(children) == 0 {
			fmt.Fprintf(&b, "child %s\n", id)
		}
		for _, child := range children {
			fmt.Fprintf(&b, "child %s %s\n", id, child)
		}
	}
	for _, inv := range u.RPC {
		b.WriteString("rpc ")
		writeInvocation(&b, inv)
	}
	return b.String()
}

func writeInvocation(b *strings.Builder, inv *rpc.Invocation) {
	fmt.Fprintf(b, "%s %s %s", inv.ConnectorID, inv.Interface, inv.Method)
	writeKVs(b, inv.Args)
	b.WriteByte('\n')
}

// writeKVs writes " k=v" pairs in key order.
func writeKVs(b *strings.Builder, m map[string]string) {
	for _, k := range sortedKeys(m) {
		b.WriteByte(' ')
		b.WriteString(FormatKV(k, m[k]))
	}
}

// sortedKeys returns map keys in sorted order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseUpdate decodes an update from the text protocol format.
func ParseUpdate(text string) (*Update, error) {
	u := NewUpdate(0)
	for n, line := range strings.Split(text, "\n") {
		tokens := Tokenize(strings.TrimSpace(line))
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "sync":
			v, err := parseSync(tokens)
			if err != nil {
				return nil, fmt.Errorf("proto: line %d: %w", n+1, err)
			}
			u.Sync = v
		case "root":
			if len(tokens) < 2 {
				return nil, fmt.Errorf("proto: line %d: root missing value", n+1)
			}
			u.Root = tokens[1]
		case "node":
			if len(tokens) < 3 {
				return nil, fmt.Errorf("proto: line %d: node missing id or type", n+1)
			}
			u.AddNode(tokens[1], tokens[2])
		case "prop":
			if len(tokens) < 2 {
				return nil, fmt.Errorf("proto: line %d: prop missing id", n+1)
			}
			id := tokens[1]
			u.mention(id)
			if u.Props[id] == nil {
				u.Props[id] = make(map[string]string)
			}
			for _, kv := range tokens[2:] {
				if k, v, ok := ParseKV(kv); ok {
					u.Props[id][k] = v
				}
			}
		case "unset":
			if len(tokens) < 3 {
				return nil, fmt.Errorf("proto: line %d: unset missing id or property", n+1)
			}
			for _, k := range tokens[2:] {
				u.UnsetProp(tokens[1], k)
			}
		case "child":
			if len(tokens) < 2 {
				return nil, fmt.Errorf("proto: line %d: child missing parent", n+1)
			}
			parent := tokens[1]
			u.mention(parent)
			children := u.Children[parent]
			if children == nil {
				children = []string{}
			}
			if len(tokens) >= 3 {
				children = append(children, tokens[2])
			}
			u.Children[parent] = children
		case "rpc":
			inv, err := parseInvocation(tokens)
			if err != nil {
				return nil, fmt.Errorf("proto: line %d: %w", n+1, err)
			}
			u.RPC = append(u.RPC, inv)
		default:
			// Unknown directive: skip for forward compatibility
		}
	}
	return u, nil
}

func parseSync(tokens []string) (uint64, error) {
	if len(tokens) < 2 {
		return 0, fmt.Errorf("sync missing value")
	}
	v, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad sync: %v", err)
	}
	return v, nil
}

// parseInvocation decodes "<kind> <id> <interface> <method> k=v ...".
func parseInvocation(tokens []string) (*rpc.Invocation, error) {
	if len(tokens) < 4 {
		return nil, fmt.Errorf("%s missing id, interface or method", tokens[0])
	}
	inv := &rpc.Invocation{
		ConnectorID: tokens[1],
		Interface:   tokens[2],
		Method:      tokens[3],
		Args:        make(map[string]string),
	}
	for _, kv := range tokens[4:] {
		if k, v, ok := ParseKV(kv); ok {
			inv.Args[k] = v
		}
	}
	return inv, nil
}

// --- Call batch serialization ---

// SerializeCalls encodes a batch of outbound calls.
func SerializeCalls(b *Batch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "sync %d\n", b.Sync)
	for _, inv := range b.Calls {
		sb.WriteString("call ")
		writeInvocation(&sb, inv)
	}
	return sb.String()
}

// ParseCalls decodes a batch of calls, as a server does.
func ParseCalls(text string) (*Batch, error) {
	b := &Batch{}
	for n, line := range strings.Split(text, "\n") {
		tokens := Tokenize(strings.TrimSpace(line))
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "sync":
			v, err := parseSync(tokens)
			if err != nil {
				return nil, fmt.Errorf("proto: line %d: %w", n+1, err)
			}
			b.Sync = v
		case "call":
			inv, err := parseInvocation(tokens)
			if err != nil {
				return nil, fmt.Errorf("proto: line %d: %w", n+1, err)
			}
			b.Calls = append(b.Calls, inv)
		}
	}
	return b, nil
}
