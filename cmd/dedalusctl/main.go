// Command dedalusctl is the operator CLI for a Dedalus master: graph
// {create|info|launch} and instance {info|ctrl|logs}, dispatching plain
// JSON HTTP requests to the master API (spec.md §6). Grounded in the
// teacher's flag-based cmd/scheduler/main.go and cmd/worker/main.go CLI
// idiom (flag.NewFlagSet per subcommand, os.Args[1] dispatch) and, for the
// verb layout, in original_source's client/app.py command structure.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/luckygeck/dedalus/internal/dagutil"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "graph":
		runGraph(os.Args[2:])
	case "instance":
		runInstance(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  dedalusctl graph create <name> -file graph.yaml
  dedalusctl graph info <name> [-revision N]
  dedalusctl graph launch <name> [-revision N]
  dedalusctl instance info <id>
  dedalusctl instance ctrl <id> -state running|stopped
  dedalusctl instance logs <id> -task NAME -host HOST [-stream out|err]`)
}

func masterAddr() string {
	if addr := os.Getenv("DEDALUS_MASTER"); addr != "" {
		return addr
	}
	return "http://localhost:8080"
}

func runGraph(args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}
	verb, name, rest := args[0], args[1], args[2:]

	switch verb {
	case "create":
		fs := flag.NewFlagSet("graph create", flag.ExitOnError)
		file := fs.String("file", "", "path to a YAML graph definition")
		fs.Parse(rest)
		if *file == "" {
			fmt.Fprintln(os.Stderr, "graph create requires -file")
			os.Exit(1)
		}
		g, err := dagutil.ParseGraphYAMLFile(*file)
		if err != nil {
			fatal("parse graph file", err)
		}
		body, err := postJSON(fmt.Sprintf("%s/v1.0/graph/%s", masterAddr(), name), g)
		if err != nil {
			fatal("create graph", err)
		}
		printJSON(body)

	case "info":
		fs := flag.NewFlagSet("graph info", flag.ExitOnError)
		revision := fs.Int("revision", -1, "specific revision to fetch (default: latest)")
		fs.Parse(rest)
		path := fmt.Sprintf("%s/v1.0/graph/%s", masterAddr(), name)
		if *revision >= 0 {
			path = fmt.Sprintf("%s/%d", path, *revision)
		}
		body, err := getJSON(path)
		if err != nil {
			fatal("get graph", err)
		}
		printJSON(body)

	case "launch":
		fs := flag.NewFlagSet("graph launch", flag.ExitOnError)
		revision := fs.Int("revision", -1, "specific revision to launch (default: latest)")
		fs.Parse(rest)
		path := fmt.Sprintf("%s/v1.0/graph/%s/launch", masterAddr(), name)
		if *revision >= 0 {
			path = fmt.Sprintf("%s/v1.0/graph/%s/%d/launch", masterAddr(), name, *revision)
		}
		body, err := postJSON(path, nil)
		if err != nil {
			fatal("launch graph", err)
		}
		printJSON(body)

	default:
		usage()
		os.Exit(1)
	}
}

func runInstance(args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}
	verb, id, rest := args[0], args[1], args[2:]

	switch verb {
	case "info":
		body, err := getJSON(fmt.Sprintf("%s/v1.0/instance/%s", masterAddr(), id))
		if err != nil {
			fatal("get instance", err)
		}
		printJSON(body)

	case "ctrl":
		fs := flag.NewFlagSet("instance ctrl", flag.ExitOnError)
		target := fs.String("state", "", "running|stopped")
		fs.Parse(rest)
		if *target != "running" && *target != "stopped" {
			fmt.Fprintln(os.Stderr, "instance ctrl requires -state running|stopped")
			os.Exit(1)
		}
		body, err := postJSON(fmt.Sprintf("%s/v1.0/instance/%s/%s", masterAddr(), id, *target), nil)
		if err != nil {
			fatal("control instance", err)
		}
		printJSON(body)

	case "logs":
		fs := flag.NewFlagSet("instance logs", flag.ExitOnError)
		task := fs.String("task", "", "task name")
		host := fs.String("host", "", "host address")
		stream := fs.String("stream", "out", "out|err")
		fs.Parse(rest)
		if *task == "" || *host == "" {
			fmt.Fprintln(os.Stderr, "instance logs requires -task and -host")
			os.Exit(1)
		}
		body, err := getJSON(fmt.Sprintf("%s/v1.0/instance/%s/logs/%s/%s/%s", masterAddr(), id, *task, *host, *stream))
		if err != nil {
			fatal("get instance logs", err)
		}
		os.Stdout.Write(body)

	default:
		usage()
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func getJSON(url string) ([]byte, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func postJSON(url string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}
	resp, err := httpClient.Post(url, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func printJSON(raw []byte) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		os.Stdout.Write(raw)
		return
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		os.Stdout.Write(raw)
		return
	}
	fmt.Println(string(pretty))
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
