// Command governctl is the operator CLI for the governance pipeline:
// submit a governance request, administer policies, and inspect the
// audit ledger, all over the same REST surface api.APIServer exposes.
//
// Structural port of the teacher's cmd/ocx-cli/main.go command-
// dispatch shape (os.Args[1] switch, GOVERNCTL_GATEWAY_URL/
// GOVERNCTL_TENANT_ID env vars, doRequest helper), re-targeted at this
// core's /v1 routes.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	gateway := os.Getenv("GOVERNCTL_GATEWAY_URL")
	if gateway == "" {
		gateway = "http://localhost:8443"
	}
	tenantID := os.Getenv("GOVERNCTL_TENANT_ID")
	if tenantID == "" {
		tenantID = "default"
	}

	switch os.Args[1] {
	case "govern":
		cmdGovern(gateway, tenantID)
	case "policy":
		cmdPolicy(gateway, tenantID)
	case "ledger":
		cmdLedger(gateway, tenantID)
	case "escrow":
		cmdEscrow(gateway, tenantID)
	case "version":
		fmt.Printf("governctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`governctl v` + version + `

Usage: governctl <command> [flags]

Commands:
  govern    Submit a governance request
  policy    add | list | rollback
  ledger    verify | stream
  escrow    release | reject
  version   Print version
  help      Show this help

Environment:
  GOVERNCTL_GATEWAY_URL   Gateway URL (default: http://localhost:8443)
  GOVERNCTL_TENANT_ID     Tenant ID (default: "default")

Examples:
  governctl govern --tool execute_payment --agent agent-1 --args '{"amount":15000}'
  governctl policy list
  governctl ledger verify
  governctl escrow release --id escrow-123 --jury-approved --entropy-safe`)
}

func cmdGovern(gateway, tenantID string) {
	var toolName, argsJSON, agentID, role string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--tool":
			i++
			if i < len(args) {
				toolName = args[i]
			}
		case "--args":
			i++
			if i < len(args) {
				argsJSON = args[i]
			}
		case "--agent":
			i++
			if i < len(args) {
				agentID = args[i]
			}
		case "--role":
			i++
			if i < len(args) {
				role = args[i]
			}
		}
	}
	if toolName == "" {
		fmt.Fprintln(os.Stderr, "Error: --tool is required")
		os.Exit(1)
	}
	if agentID == "" {
		agentID = fmt.Sprintf("governctl-%d", time.Now().UnixNano()%10000)
	}
	var parsedArgs map[string]interface{}
	if argsJSON != "" {
		json.Unmarshal([]byte(argsJSON), &parsedArgs)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"agent_id": agentID, "role": role, "tool_name": toolName, "arguments": parsedArgs,
	})
	resp, err := doRequest("POST", gateway+"/v1/govern", body, tenantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	var result map[string]interface{}
	json.Unmarshal(resp, &result)
	switch result["verdict"] {
	case "ALLOW":
		fmt.Printf("ALLOW  trust=%.2f evidence=%s\n", toFloat(result["trust_score"]), result["evidence_hash"])
	case "BLOCK":
		fmt.Printf("BLOCK  reason=%s (%s)\n", result["reason"], result["reason_code"])
	case "HOLD":
		fmt.Printf("HOLD   escrow_id=%s reason=%s\n", result["escrow_id"], result["reason"])
	default:
		fmt.Printf("%v  %v\n", result["verdict"], result["reason"])
	}
}

func cmdPolicy(gateway, tenantID string) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: governctl policy <add|list|rollback>")
		os.Exit(1)
	}
	switch os.Args[2] {
	case "list":
		resp, err := doRequest("GET", gateway+"/v1/policies", nil, tenantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(resp))
	case "add":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: governctl policy add <policy.json>")
			os.Exit(1)
		}
		data, err := os.ReadFile(os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
			os.Exit(1)
		}
		resp, err := doRequest("POST", gateway+"/v1/policies", data, tenantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(resp))
	case "rollback":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: governctl policy rollback <policy-id> <target-version>")
			os.Exit(1)
		}
		target, err := strconv.Atoi(os.Args[4])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid target version: %v\n", err)
			os.Exit(1)
		}
		body, _ := json.Marshal(map[string]interface{}{"target_version": target})
		resp, err := doRequest("POST", gateway+"/v1/policies/"+os.Args[3]+"/rollback", body, tenantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(resp))
	default:
		fmt.Fprintf(os.Stderr, "Unknown policy subcommand: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func cmdLedger(gateway, tenantID string) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: governctl ledger <verify|stream>")
		os.Exit(1)
	}
	switch os.Args[2] {
	case "verify":
		resp, err := doRequest("GET", gateway+"/v1/ledger/verify", nil, tenantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(resp))
	case "stream":
		resp, err := doRequest("GET", gateway+"/v1/ledger/stream", nil, tenantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(resp))
	default:
		fmt.Fprintf(os.Stderr, "Unknown ledger subcommand: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func cmdEscrow(gateway, tenantID string) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: governctl escrow <release|reject>")
		os.Exit(1)
	}
	sub := os.Args[2]
	var escrowID string
	juryApproved, entropySafe := false, false
	args := os.Args[3:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--id":
			i++
			if i < len(args) {
				escrowID = args[i]
			}
		case "--jury-approved":
			juryApproved = true
		case "--entropy-safe":
			entropySafe = true
		}
	}
	if escrowID == "" {
		fmt.Fprintln(os.Stderr, "Error: --id is required")
		os.Exit(1)
	}
	body, _ := json.Marshal(map[string]interface{}{"jury_approved": juryApproved, "entropy_safe": entropySafe})
	path := "/v1/escrow/" + escrowID + "/" + sub
	resp, err := doRequest("POST", gateway+path, body, tenantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(resp))
}

func doRequest(method, url string, body []byte, tenantID string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func toFloat(v interface{}) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int:
		return float64(f)
	default:
		return 0
	}
}
