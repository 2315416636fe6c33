package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/penshort/insights/internal/auth"
)

type output struct {
	Token   string `json:"token"`
	Hash    string `json:"hash"`
	EnvLine string `json:"env_line"`
}

func main() {
	var (
		format = flag.String("format", "plain", "Output format: plain, env or json")
		verify = flag.String("verify", "", "Check a token against ADMIN_TOKEN_HASH instead of generating one")
	)
	flag.Parse()

	if *verify != "" {
		os.Exit(runVerify(*verify, os.Getenv("ADMIN_TOKEN_HASH")))
	}

	generated, err := auth.GenerateToken()
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate token:", err)
		os.Exit(1)
	}

	out := output{
		Token:   generated.Plaintext,
		Hash:    generated.Hash,
		EnvLine: "ADMIN_TOKEN_HASH='" + generated.Hash + "'",
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Token)
		fmt.Fprintln(os.Stderr, out.EnvLine)
	case "env":
		fmt.Println(out.EnvLine)
		fmt.Fprintln(os.Stderr, "token:", out.Token)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain, env or json")
		os.Exit(1)
	}
}

func runVerify(token, hash string) int {
	if hash == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_TOKEN_HASH is required for -verify")
		return 1
	}
	if !auth.ValidTokenFormat(token) {
		fmt.Fprintln(os.Stderr, "token format is invalid")
		return 1
	}

	ok, err := auth.VerifyToken(token, hash)
	if err != nil {
		fmt.Fprintln(os.Stderr, "verify token:", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "token does not match")
		return 1
	}
	fmt.Println("token matches")
	return 0
}
