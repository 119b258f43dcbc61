package infrastructure

import "strings"

// shellMetaChars are the characters that make an argument need quoting
const shellMetaChars = " \t\n\r'\"$`\\!*?[](){}|;<>&~#%"

// QuoteArg renders one argument so a logged command line can be pasted back
// into a POSIX shell. Only used for display; commands never run through a shell.
func QuoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, shellMetaChars) {
		return arg
	}
	// close the quote, emit a double-quoted ', reopen
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// FormatCommand renders a binary and its arguments as a single shell line
func FormatCommand(binary string, args ...string) string {
	var b strings.Builder
	b.WriteString(QuoteArg(binary))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(QuoteArg(arg))
	}
	return b.String()
}
