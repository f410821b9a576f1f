package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// ansiRed/ansiReset colorize a single human-mode error line; no-ops carry no
// meaning in json/jsonl mode, which never reach these helpers.
const (
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// reportError writes err to stderr in the shape --output-format calls for:
// a colorized line in human mode, a structured object otherwise
func reportError(err error) {
	switch flags.outputFormat {
	case "json", "jsonl":
		body := map[string]string{"error": "exception", "message": err.Error()}
		if ue, ok := err.(*usageError); ok {
			body["error"] = "invalid_request"
			body["message"] = ue.msg
		}
		data, _ := json.Marshal(body)
		fmt.Fprintln(os.Stderr, string(data))
	default:
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ansiRed, ansiReset, err)
	}
}

// printResult renders a command's successful result according to
// --output-format: human gets a caller-supplied one-line summary, json/jsonl
// both get the value marshaled as a single JSON document (jsonl only differs
// from json when a command streams multiple lines, which each call
// printJSONLine directly instead of this helper).
func printResult(v any, human string) {
	switch flags.outputFormat {
	case "json", "jsonl":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			reportError(err)
			return
		}
		fmt.Println(string(data))
	default:
		fmt.Println(human)
	}
}

// printJSONLine writes v as one compact JSON line, used by streaming
// commands (run attach) in jsonl mode — and by json mode too, since
// --output-format=json is coerced to jsonl for any streaming command.
func printJSONLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}

// streamingFormat coerces the deprecated json alias to jsonl for commands
// that stream multiple records.
func streamingFormat() string {
	if flags.outputFormat == "json" {
		return "jsonl"
	}
	return flags.outputFormat
}
