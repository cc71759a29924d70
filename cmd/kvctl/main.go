package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stripedkv/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:   "kvctl",
		Short: "Command-line client for kvserver",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:50051", "kvserver address")

	root.AddCommand(
		newSetCmd(&addr),
		newGetCmd(&addr),
		newGetPrefixCmd(&addr),
		newStatCmd(&addr),
	)

	return root
}

func dial(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, 5*time.Second)
}

func call(addr string, req wire.Request) (wire.Response, error) {
	conn, err := dial(addr)
	if err != nil {
		return wire.Response{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.EncodeRequest(req)); err != nil {
		return wire.Response{}, fmt.Errorf("write request: %w", err)
	}

	payload, err := wire.ReadFrame(conn, 0)
	if err != nil {
		return wire.Response{}, fmt.Errorf("read response: %w", err)
	}

	return wire.DecodeResponse(req.Op, payload)
}

func newSetCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key to a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(*addr, wire.Request{Op: wire.OpSet, Key: args[0], Value: []byte(args[1])})
			if err != nil {
				return err
			}
			if resp.Status != wire.StatusOK {
				return fmt.Errorf("server error: %s", resp.Error)
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func newGetCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(*addr, wire.Request{Op: wire.OpGet, Key: args[0]})
			if err != nil {
				return err
			}
			if resp.Status != wire.StatusOK {
				return fmt.Errorf("server error: %s", resp.Error)
			}
			if !resp.Found {
				fmt.Println("(not found)")
				return nil
			}
			fmt.Println(string(resp.Value))
			return nil
		},
	}
}

func newGetPrefixCmd(addr *string) *cobra.Command {
	var maxResults int

	cmd := &cobra.Command{
		Use:   "getprefix <prefix>",
		Short: "List every key starting with prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(*addr, wire.Request{
				Op:         wire.OpGetPrefix,
				Prefix:     args[0],
				MaxResults: uint32(maxResults),
			})
			if err != nil {
				return err
			}
			if resp.Status != wire.StatusOK {
				return fmt.Errorf("server error: %s", resp.Error)
			}
			for _, kv := range resp.Pairs {
				fmt.Printf("%s\t%s\n", kv.Key, string(kv.Value))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "maximum number of results to return (0 = unbounded)")
	return cmd
}

func newStatCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print server counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(*addr, wire.Request{Op: wire.OpStat})
			if err != nil {
				return err
			}
			if resp.Status != wire.StatusOK {
				return fmt.Errorf("server error: %s", resp.Error)
			}
			s := resp.Stat
			fmt.Printf("keys: %s\n", strconv.FormatUint(s.KeyCount, 10))
			fmt.Printf("total_requests: %s\n", strconv.FormatUint(s.TotalRequests, 10))
			fmt.Printf("set: %s\n", strconv.FormatUint(s.SetCount, 10))
			fmt.Printf("get: %s\n", strconv.FormatUint(s.GetCount, 10))
			fmt.Printf("get_prefix: %s\n", strconv.FormatUint(s.GetPrefixCount, 10))
			fmt.Printf("start_time: %s\n", s.StartTime)
			return nil
		},
	}
}
