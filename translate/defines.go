package translate

import (
	"fmt"
	"strconv"
	"strings"
)

// DefinePrefix names the macros that carry specialization constants.
const DefinePrefix = "SPEC_CONSTANT_"

// FormatDefine renders one define token, SPEC_CONSTANT_<id>=<value>.
func FormatDefine(id, value uint32) string {
	return fmt.Sprintf("%s%d=%d", DefinePrefix, id, value)
}

// InjectDefines prepends a #define line for every NAME=VALUE token of the
// space-separated defines string. A token without a value defines NAME as 1.
func InjectDefines(src, defines string) string {
	fields := strings.Fields(defines)
	if len(fields) == 0 {
		return src
	}
	var b strings.Builder
	for _, f := range fields {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			value = "1"
		}
		fmt.Fprintf(&b, "#define %s %s\n", name, value)
	}
	b.WriteString(src)
	return b.String()
}

// ParseDefines returns the specialization constants of a defines string.
// Tokens that do not name a specialization constant are ignored.
func ParseDefines(defines string) (map[uint32]uint32, error) {
	out := make(map[uint32]uint32)
	for _, f := range strings.Fields(defines) {
		name, value, ok := strings.Cut(f, "=")
		if !ok || !strings.HasPrefix(name, DefinePrefix) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimPrefix(name, DefinePrefix), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("define %q: %w", f, err)
		}
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("define %q: %w", f, err)
		}
		out[uint32(id)] = uint32(v)
	}
	return out, nil
}
