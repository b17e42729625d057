// slpvalid-cli is a command-line client for a running slpvalidd daemon.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ActorForth/ECash-SLPDB/config"
	"github.com/ActorForth/ECash-SLPDB/internal/cache"
	"github.com/ActorForth/ECash-SLPDB/internal/rpc"
	"github.com/ActorForth/ECash-SLPDB/internal/rpcclient"
	"github.com/ActorForth/ECash-SLPDB/internal/token"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
	"github.com/ActorForth/ECash-SLPDB/pkg/uri"
	"golang.org/x/term"
)

const defaultRPC = "http://127.0.0.1:8755"

// globals are the flags accepted before the subcommand.
type globals struct {
	rpcURL string
	json   bool
}

func main() {
	g, args := scanGlobals(os.Args[1:])
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	// Piped output is machine-readable by default.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		g.json = true
	}

	client := rpcclient.New(g.rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "validate":
		cmdValidate(client, g, cmdArgs)
	case "indexers":
		cmdIndexers(client, g)
	case "reconfigure":
		cmdReconfigure(client, g, cmdArgs)
	case "invalidate":
		cmdInvalidate(client, g, cmdArgs)
	case "cache":
		cmdCache(client, g)
	case "uri":
		cmdURI(client, g, cmdArgs)
	case "token":
		cmdToken(client, g, cmdArgs)
	case "tokens":
		cmdTokens(client, g)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

// scanGlobals consumes --rpc and --json ahead of the subcommand.
func scanGlobals(args []string) (globals, []string) {
	g := globals{rpcURL: defaultRPC}
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			g.rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			g.rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--json":
			g.json = true
			args = args[1:]
		default:
			return g, args
		}
	}
	return g, args
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: slpvalid-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         Daemon RPC endpoint (default: %s)
  --json              Print raw JSON results

Commands:
  validate <token_id> <tx_id> [policy flags]
                                  Validate a token transaction
      --min-agreeing <n>          Indexers that must agree (0 = trustless replay)
      --min-fraction <f>          Weighted share of responders that must agree
      --no-fallback-disagreement  Do not replay when indexers disagree
      --no-fallback-insufficient  Do not replay when too few indexers answer
  indexers                        Show the indexer set and default policy
  reconfigure --file <indexers.yaml>
                                  Replace the indexer set
  invalidate --height <h> [--at-or-below]
                                  Drop cached verdicts from a height
  cache                           Show verdict cache statistics
  token <token_id>                Show token metadata from its genesis
  tokens                          List tokens with known metadata
  uri <uri>                       Parse a payment URI
  uri create --address <a> [--token <id> --amount <n>] [--coins <bch>] [--message <m>]
                                  Build a payment URI
`, defaultRPC)
}

// ── validate ────────────────────────────────────────────────────────────

func cmdValidate(client *rpcclient.Client, g globals, args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	minAgreeing := fs.Int("min-agreeing", -1, "Indexers that must agree (-1 = daemon default)")
	minFraction := fs.Float64("min-fraction", 0.5, "Weighted share of responders that must agree")
	noDisagree := fs.Bool("no-fallback-disagreement", false, "Do not replay on disagreement")
	noInsufficient := fs.Bool("no-fallback-insufficient", false, "Do not replay on too few answers")

	positional, flagArgs := splitPositional(args, 2)
	fs.Parse(flagArgs)
	if len(positional) != 2 {
		fatal("Usage: slpvalid-cli validate <token_id> <tx_id> [flags]")
	}

	param := rpc.ValidateParam{TokenID: positional[0], TxID: positional[1]}
	if *minAgreeing >= 0 {
		param.Policy = &verdict.Policy{
			MinAgreeing:            *minAgreeing,
			MinFraction:            *minFraction,
			FallbackOnDisagreement: !*noDisagree,
			FallbackOnInsufficient: !*noInsufficient,
		}
	}

	var v verdict.Verdict
	if err := client.Call("token_validate", param, &v); err != nil {
		fatal("token_validate: %v", err)
	}
	if g.json {
		printJSON(v)
		return
	}
	fmt.Printf("Outcome:     %s\n", v.Outcome)
	fmt.Printf("Source:      %s\n", v.Source)
	if v.Source == verdict.SourceCached {
		fmt.Printf("Origin:      %s\n", v.Origin)
	}
	if len(v.ConfirmingIndexers) > 0 {
		fmt.Printf("Confirmed:   %s\n", strings.Join(v.ConfirmingIndexers, ", "))
	}
	fmt.Printf("Observed at: %d\n", v.ObservedAt)
}

// splitPositional separates up to n leading positional arguments from the
// flags that follow them.
func splitPositional(args []string, n int) (positional, rest []string) {
	for len(args) > 0 && len(positional) < n && !strings.HasPrefix(args[0], "-") {
		positional = append(positional, args[0])
		args = args[1:]
	}
	return positional, args
}

// ── indexers ────────────────────────────────────────────────────────────

func cmdIndexers(client *rpcclient.Client, g globals) {
	var result rpc.IndexerListResult
	if err := client.Call("indexer_list", nil, &result); err != nil {
		fatal("indexer_list: %v", err)
	}
	if g.json {
		printJSON(result)
		return
	}
	p := result.DefaultPolicy
	fmt.Printf("Default policy: %d agreeing, fraction %.2f, fallback disagreement=%t insufficient=%t\n",
		p.MinAgreeing, p.MinFraction, p.FallbackOnDisagreement, p.FallbackOnInsufficient)
	if len(result.Indexers) == 0 {
		fmt.Println("No indexers configured.")
		return
	}
	fmt.Printf("%-16s %-8s %-7s %s\n", "NAME", "PROTO", "WEIGHT", "ADDRESS")
	for _, ix := range result.Indexers {
		fmt.Printf("%-16s %-8s %-7.2f %s\n", ix.Name, ix.Protocol, ix.Weight(), ix.Address)
	}
}

func cmdReconfigure(client *rpcclient.Client, g globals, args []string) {
	fs := flag.NewFlagSet("reconfigure", flag.ExitOnError)
	file := fs.String("file", "", "YAML indexer list")
	fs.Parse(args)
	if *file == "" {
		fatal("Usage: slpvalid-cli reconfigure --file <indexers.yaml>")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fatal("read %s: %v", *file, err)
	}
	indexers, err := config.ParseIndexers(data)
	if err != nil {
		fatal("%s: %v", *file, err)
	}

	var result rpc.ReconfigureResult
	if err := client.Call("indexer_reconfigure", rpc.ReconfigureParam{Indexers: indexers}, &result); err != nil {
		fatal("indexer_reconfigure: %v", err)
	}
	if g.json {
		printJSON(result)
		return
	}
	fmt.Printf("Indexer set replaced: %d endpoints", result.Indexers)
	if result.Persisted {
		fmt.Print(" (saved)")
	}
	fmt.Println()
}

// ── cache ───────────────────────────────────────────────────────────────

func cmdInvalidate(client *rpcclient.Client, g globals, args []string) {
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	height := fs.Uint64("height", 0, "Block height")
	atOrBelow := fs.Bool("at-or-below", false, "Drop verdicts observed at or below height instead of from it")
	fs.Parse(args)

	param := rpc.InvalidateParam{Height: *height, Mode: rpc.InvalidateFrom}
	if *atOrBelow {
		param.Mode = rpc.InvalidateAtOrBelow
	}

	var result rpc.InvalidateResult
	if err := client.Call("cache_invalidate", param, &result); err != nil {
		fatal("cache_invalidate: %v", err)
	}
	if g.json {
		printJSON(result)
		return
	}
	fmt.Printf("Removed %d verdicts (epoch %d)\n", result.Removed, result.Epoch)
}

func cmdCache(client *rpcclient.Client, g globals) {
	var info cache.Info
	if err := client.Call("cache_info", nil, &info); err != nil {
		fatal("cache_info: %v", err)
	}
	if g.json {
		printJSON(info)
		return
	}
	fmt.Printf("Entries:    %d\n", info.Entries)
	fmt.Printf("Epoch:      %d\n", info.Epoch)
	fmt.Printf("Hits:       %d\n", info.Hits)
	fmt.Printf("Misses:     %d\n", info.Misses)
	fmt.Printf("Persistent: %t\n", info.Persistent)
}

// ── tokens ──────────────────────────────────────────────────────────────

func cmdToken(client *rpcclient.Client, g globals, args []string) {
	if len(args) != 1 {
		fatal("Usage: slpvalid-cli token <token_id>")
	}
	var info token.Info
	if err := client.Call("token_info", rpc.TokenParam{TokenID: args[0]}, &info); err != nil {
		fatal("token_info: %v", err)
	}
	if g.json {
		printJSON(info)
		return
	}
	fmt.Printf("Token ID:   %s\n", info.ID)
	fmt.Printf("Type:       %s\n", info.TokenType)
	fmt.Printf("Ticker:     %s\n", info.Ticker)
	fmt.Printf("Name:       %s\n", info.Name)
	fmt.Printf("Decimals:   %d\n", info.Decimals)
	fmt.Printf("Supply:     %d\n", info.InitialSupply)
	fmt.Printf("Baton:      %t\n", info.Baton)
	if info.DocumentURL != "" {
		fmt.Printf("Document:   %s\n", info.DocumentURL)
	}
	if info.GenesisHeight == 0 {
		fmt.Println("Genesis:    unconfirmed")
	} else {
		fmt.Printf("Genesis:    %d\n", info.GenesisHeight)
	}
}

func cmdTokens(client *rpcclient.Client, g globals) {
	var list []token.Info
	if err := client.Call("token_list", nil, &list); err != nil {
		fatal("token_list: %v", err)
	}
	if g.json {
		printJSON(list)
		return
	}
	if len(list) == 0 {
		fmt.Println("No tokens known.")
		return
	}
	fmt.Printf("%-64s  %-10s %-8s %s\n", "TOKEN ID", "TICKER", "HEIGHT", "NAME")
	for _, t := range list {
		fmt.Printf("%-64s  %-10s %-8d %s\n", t.ID, t.Ticker, t.GenesisHeight, t.Name)
	}
}

// ── uri ─────────────────────────────────────────────────────────────────

func cmdURI(client *rpcclient.Client, g globals, args []string) {
	if len(args) < 1 {
		fatal("Usage: slpvalid-cli uri <uri> | uri create [flags]")
	}
	if args[0] == "create" {
		cmdURICreate(args[1:])
		return
	}

	var req uri.Request
	if err := client.Call("uri_parse", rpc.URIParam{URI: args[0]}, &req); err != nil {
		fatal("uri_parse: %v", err)
	}
	if g.json {
		printJSON(req)
		return
	}
	fmt.Printf("Scheme:   %s\n", req.Scheme)
	fmt.Printf("Address:  %s\n", req.Address)
	if req.Satoshis != 0 {
		fmt.Printf("Coins:    %s\n", uri.FormatCoins(req.Satoshis))
	}
	for _, t := range req.Tokens {
		fmt.Printf("Token:    %s of %s", t.Amount, t.TokenID)
		if t.Flags != "" {
			fmt.Printf(" [%s]", t.Flags)
		}
		fmt.Println()
	}
	if req.Message != "" {
		fmt.Printf("Message:  %s\n", req.Message)
	}
}

func cmdURICreate(args []string) {
	fs := flag.NewFlagSet("uri create", flag.ExitOnError)
	address := fs.String("address", "", "Payment address")
	token := fs.String("token", "", "Token id (hex)")
	amount := fs.String("amount", "", "Token amount")
	coins := fs.String("coins", "", "Coin amount")
	message := fs.String("message", "", "Message")
	fs.Parse(args)

	req, err := buildURI(*address, *token, *amount, *coins, *message)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(req.String())
}

// buildURI assembles a payment request from CLI values.
func buildURI(address, token, amount, coins, message string) (*uri.Request, error) {
	if address == "" {
		return nil, fmt.Errorf("--address is required")
	}
	req := &uri.Request{Scheme: uri.SchemeSLP, Address: address, Message: message}
	if token != "" {
		id, err := types.HexToTokenID(token)
		if err != nil {
			return nil, fmt.Errorf("invalid token id: %w", err)
		}
		if amount == "" {
			return nil, fmt.Errorf("--amount is required with --token")
		}
		req.Tokens = []uri.TokenAmount{{TokenID: id, Amount: amount}}
	}
	if coins != "" {
		sat, err := uri.ParseCoins(coins)
		if err != nil {
			return nil, err
		}
		req.Satoshis = sat
	}
	// Round-trip through the parser so the output is always accepted.
	if _, err := uri.Parse(req.String()); err != nil {
		return nil, err
	}
	return req, nil
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode: %v", err)
	}
	fmt.Println(string(data))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
