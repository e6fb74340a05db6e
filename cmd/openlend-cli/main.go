package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"openlend/cmd/internal/token"
	"openlend/sdk/lend"
)

var (
	rpcEndpoint = defaultRPCEndpoint()
	tokenPrompt = false
	rpcToken    = ""
)

const rpcTokenEnv = "OPENLEND_RPC_TOKEN"

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	rest := args[1:]
	var runErr error
	switch command {
	case "markets":
		runErr = listMarkets()
	case "market":
		runErr = requireArgs(rest, 1, "market <asset>", func() error {
			return getMarket(rest[0])
		})
	case "assets":
		runErr = listAssets()
	case "account":
		runErr = requireArgs(rest, 2, "account <address> <asset>", func() error {
			return getAccount(rest[0], rest[1])
		})
	case "position":
		runErr = requireArgs(rest, 2, "position <address> <asset>", func() error {
			return getPosition(rest[0], rest[1])
		})
	case "health":
		runErr = requireArgs(rest, 1, "health <address>", func() error {
			return getHealth(rest[0])
		})
	case "deposit":
		runErr = requireArgs(rest, 3, "deposit <address> <asset> <amount>", func() error {
			return mutate(rest[0], rest[1], rest[2], "deposit")
		})
	case "withdraw":
		runErr = requireArgs(rest, 3, "withdraw <address> <asset> <amount>", func() error {
			return mutate(rest[0], rest[1], rest[2], "withdraw")
		})
	case "borrow":
		runErr = requireArgs(rest, 3, "borrow <address> <asset> <amount>", func() error {
			return mutate(rest[0], rest[1], rest[2], "borrow")
		})
	case "repay":
		if len(rest) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: openlend-cli repay <address> <asset> [amount]")
			os.Exit(1)
		}
		amount := ""
		if len(rest) >= 3 {
			amount = rest[2]
		}
		runErr = repay(rest[0], rest[1], amount)
	case "liquidate":
		runErr = requireArgs(rest, 5, "liquidate <liquidator> <borrower> <debt-asset> <collateral-asset> <amount>", func() error {
			return liquidate(rest[0], rest[1], rest[2], rest[3], rest[4])
		})
	case "create-market":
		runErr = requireArgs(rest, 4, "create-market <asset> <collateral-bps> <borrow-bps> <supply-bps>", func() error {
			return createMarket(rest[0], rest[1], rest[2], rest[3])
		})
	case "set-market-active":
		runErr = requireArgs(rest, 2, "set-market-active <asset> <true|false>", func() error {
			return setMarketActive(rest[0], rest[1])
		})
	case "accrue":
		runErr = requireArgs(rest, 1, "accrue <asset>", func() error {
			return accrue(rest[0])
		})
	case "checkpoint":
		runErr = checkpoint()
	case "fund":
		runErr = requireArgs(rest, 3, "fund <address> <asset> <amount>", func() error {
			return fund(rest[0], rest[1], rest[2])
		})
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", runErr)
		os.Exit(1)
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --token")
			}
			rpcToken = args[i+1]
			i++
		case strings.HasPrefix(arg, "--token="):
			rpcToken = strings.TrimPrefix(arg, "--token=")
		case arg == "--token-prompt":
			tokenPrompt = true
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func requireArgs(args []string, count int, usage string, run func() error) error {
	if len(args) < count {
		fmt.Fprintf(os.Stderr, "Usage: openlend-cli %s\n", usage)
		os.Exit(1)
	}
	return run()
}

func newClient(admin bool) (*lend.Client, error) {
	opts := []lend.Option{}
	if admin {
		authToken := strings.TrimSpace(rpcToken)
		if authToken == "" {
			source := token.NewSource(rpcTokenEnv, tokenPrompt)
			resolved, err := source.Get()
			if err != nil {
				return nil, err
			}
			authToken = resolved
		}
		opts = append(opts, lend.WithAuthToken(authToken))
	}
	return lend.New(rpcEndpoint, opts...)
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func printResult(result interface{}) error {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func listMarkets() error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	list, err := client.ListMarkets(ctx)
	if err != nil {
		return err
	}
	return printResult(list)
}

func getMarket(asset string) error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	market, err := client.GetMarket(ctx, asset)
	if err != nil {
		return err
	}
	return printResult(market)
}

func listAssets() error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	assets, err := client.ListAssets(ctx)
	if err != nil {
		return err
	}
	return printResult(assets)
}

func getAccount(address, asset string) error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	account, err := client.GetAccount(ctx, address, asset)
	if err != nil {
		return err
	}
	return printResult(account)
}

func getPosition(address, asset string) error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	position, err := client.GetPosition(ctx, address, asset)
	if err != nil {
		return err
	}
	return printResult(position)
}

func getHealth(address string) error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	report, err := client.HealthFactor(ctx, address)
	if err != nil {
		return err
	}
	return printResult(report)
}

func mutate(address, asset, amount, op string) error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	var position *lend.Position
	switch op {
	case "deposit":
		position, err = client.Deposit(ctx, address, asset, amount)
	case "withdraw":
		position, err = client.Withdraw(ctx, address, asset, amount)
	case "borrow":
		position, err = client.Borrow(ctx, address, asset, amount)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	if err != nil {
		return err
	}
	return printResult(position)
}

func repay(address, asset, amount string) error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	receipt, err := client.Repay(ctx, address, asset, amount)
	if err != nil {
		return err
	}
	return printResult(receipt)
}

func liquidate(liquidator, borrower, debtAsset, collateralAsset, amount string) error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	receipt, err := client.Liquidate(ctx, lend.LiquidationParams{
		Liquidator:      liquidator,
		Borrower:        borrower,
		DebtAsset:       debtAsset,
		CollateralAsset: collateralAsset,
		Amount:          amount,
	})
	if err != nil {
		return err
	}
	return printResult(receipt)
}

func createMarket(asset, collateralBps, borrowBps, supplyBps string) error {
	client, err := newClient(true)
	if err != nil {
		return err
	}
	collateral, err := parseBps(collateralBps, "collateral-bps")
	if err != nil {
		return err
	}
	borrow, err := parseBps(borrowBps, "borrow-bps")
	if err != nil {
		return err
	}
	supply, err := parseBps(supplyBps, "supply-bps")
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	market, err := client.CreateMarket(ctx, lend.CreateMarketParams{
		Asset:               asset,
		CollateralFactorBps: collateral,
		BorrowRateBps:       borrow,
		SupplyRateBps:       supply,
	})
	if err != nil {
		return err
	}
	return printResult(market)
}

func setMarketActive(asset, active string) error {
	client, err := newClient(true)
	if err != nil {
		return err
	}
	parsed, err := strconv.ParseBool(active)
	if err != nil {
		return fmt.Errorf("invalid active flag %q", active)
	}
	ctx, cancel := callContext()
	defer cancel()
	market, err := client.SetMarketActive(ctx, asset, parsed)
	if err != nil {
		return err
	}
	return printResult(market)
}

func accrue(asset string) error {
	client, err := newClient(true)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	receipt, err := client.Accrue(ctx, asset)
	if err != nil {
		return err
	}
	return printResult(receipt)
}

func checkpoint() error {
	client, err := newClient(true)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	receipt, err := client.Checkpoint(ctx)
	if err != nil {
		return err
	}
	return printResult(receipt)
}

func fund(address, asset, amount string) error {
	client, err := newClient(true)
	if err != nil {
		return err
	}
	ctx, cancel := callContext()
	defer cancel()
	receipt, err := client.Fund(ctx, address, asset, amount)
	if err != nil {
		return err
	}
	return printResult(receipt)
}

func parseBps(value, name string) (uint64, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, value)
	}
	return parsed, nil
}

func printUsage() {
	fmt.Println("Usage: openlend-cli [--rpc <url>] [--token <token>|--token-prompt] <command> [arguments]")
	fmt.Println()
	fmt.Println("Query commands:")
	fmt.Println("  markets                                        List every market and the risk configuration")
	fmt.Println("  market <asset>                                 Show one market")
	fmt.Println("  assets                                         List asset symbols in onboarding order")
	fmt.Println("  account <address> <asset>                      Show stored balances for a user")
	fmt.Println("  position <address> <asset>                     Show balances plus accrued interest")
	fmt.Println("  health <address>                               Show the cross-market solvency report")
	fmt.Println()
	fmt.Println("Transaction commands:")
	fmt.Println("  deposit <address> <asset> <amount>             Supply collateral")
	fmt.Println("  withdraw <address> <asset> <amount>            Redeem collateral")
	fmt.Println("  borrow <address> <asset> <amount>              Draw liquidity")
	fmt.Println("  repay <address> <asset> [amount]               Settle debt (omit amount to repay everything)")
	fmt.Println("  liquidate <liq> <borrower> <debt> <coll> <amt> Liquidate an unhealthy position")
	fmt.Println()
	fmt.Println("Admin commands (require the RPC auth token):")
	fmt.Println("  create-market <asset> <coll-bps> <borrow-bps> <supply-bps>")
	fmt.Println("  set-market-active <asset> <true|false>")
	fmt.Println("  accrue <asset>")
	fmt.Println("  checkpoint")
	fmt.Println("  fund <address> <asset> <amount>                Dev-mode faucet mint")
	fmt.Println()
	fmt.Println("The RPC endpoint defaults to http://localhost:8545; override with --rpc or RPC_URL.")
	fmt.Println("Admin commands read the token from --token, " + rpcTokenEnv + ", or an interactive --token-prompt.")
}
