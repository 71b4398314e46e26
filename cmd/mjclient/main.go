// Command mjclient is the interactive MapleJuice client from spec.md §6:
// maple/juice/sql/exit over stdin, dialing the fixed leader directly.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mpcluster/internal/config"
	"mpcluster/internal/leader"
	"mpcluster/internal/topology"
	"mpcluster/internal/wire"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "mjclient",
		Short: "interactive MapleJuice client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			top, err := topology.New(cfg, cfg.MapleJuice.LeaderIndex)
			if err != nil {
				return err
			}
			addr, err := top.LeaderAddr(cfg.Ports.ClientToLeader)
			if err != nil {
				return err
			}
			os.Exit(runREPL(addr))
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to cluster.yaml")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runREPL implements spec.md §6's MapleJuice client command set.
func runREPL(leaderAddr string) int {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "maple":
			if err := runMaple(leaderAddr, fields[1:]); err != nil {
				fmt.Println(err)
			}
		case "juice":
			if err := runJuice(leaderAddr, fields[1:]); err != nil {
				fmt.Println(err)
			}
		case "sql":
			if err := runSQL(leaderAddr, fields[1:]); err != nil {
				fmt.Println(err)
			}
		case "exit":
			return 0
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
	return 1
}

// runMaple dispatches `maple <exe> <N> <inter_prefix> <src> [params...]`.
func runMaple(leaderAddr string, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: maple <exe> <N> <inter_prefix> <src> [params...]")
	}
	exe, nStr, interPrefix, src := args[0], args[1], args[2], args[3]
	n, err := strconv.Atoi(nStr)
	if err != nil {
		return fmt.Errorf("mjclient: invalid N %q: %w", nStr, err)
	}
	params := args[4:]

	conn, err := net.Dial("tcp", leaderAddr)
	if err != nil {
		return fmt.Errorf("mjclient: dialing leader: %w", err)
	}
	defer conn.Close()

	if err := wire.WriteU8(conn, leader.ReqMaple); err != nil {
		return err
	}
	if err := wire.WriteI32(conn, int32(n)); err != nil {
		return err
	}
	if err := wire.WriteString(conn, exe); err != nil {
		return err
	}
	if err := wire.WriteString(conn, interPrefix); err != nil {
		return err
	}
	if err := wire.WriteString(conn, src); err != nil {
		return err
	}
	if err := wire.WriteCustomParams(conn, params); err != nil {
		return err
	}
	return readReply(conn)
}

// runJuice dispatches `juice <exe> <N> <inter_prefix> <dst> <delete_input 0|1>`.
func runJuice(leaderAddr string, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("usage: juice <exe> <N> <inter_prefix> <dst> <delete_input 0|1>")
	}
	exe, nStr, interPrefix, dst, delStr := args[0], args[1], args[2], args[3], args[4]
	n, err := strconv.Atoi(nStr)
	if err != nil {
		return fmt.Errorf("mjclient: invalid N %q: %w", nStr, err)
	}
	deleteInput, err := strconv.Atoi(delStr)
	if err != nil || (deleteInput != 0 && deleteInput != 1) {
		return fmt.Errorf("mjclient: delete_input must be 0 or 1")
	}

	conn, err := net.Dial("tcp", leaderAddr)
	if err != nil {
		return fmt.Errorf("mjclient: dialing leader: %w", err)
	}
	defer conn.Close()

	if err := wire.WriteU8(conn, leader.ReqJuice); err != nil {
		return err
	}
	if err := wire.WriteI32(conn, int32(n)); err != nil {
		return err
	}
	if err := wire.WriteString(conn, exe); err != nil {
		return err
	}
	if err := wire.WriteString(conn, interPrefix); err != nil {
		return err
	}
	if err := wire.WriteString(conn, dst); err != nil {
		return err
	}
	if err := wire.WriteU8(conn, byte(deleteInput)); err != nil {
		return err
	}
	return readReply(conn)
}

// runSQL dispatches `SELECT ALL FROM <src> WHERE <regex> INTO <dst> IN <N> TASKS`.
func runSQL(leaderAddr string, args []string) error {
	if len(args) != 11 {
		return fmt.Errorf("usage: sql SELECT ALL FROM <src> WHERE <regex> INTO <dst> IN <N> TASKS")
	}
	if strings.ToUpper(args[0]) != "SELECT" || strings.ToUpper(args[1]) != "ALL" || strings.ToUpper(args[2]) != "FROM" ||
		strings.ToUpper(args[4]) != "WHERE" || strings.ToUpper(args[6]) != "INTO" || strings.ToUpper(args[8]) != "IN" ||
		strings.ToUpper(args[10]) != "TASKS" {
		return fmt.Errorf("usage: sql SELECT ALL FROM <src> WHERE <regex> INTO <dst> IN <N> TASKS")
	}
	src, regex, dst, nStr := args[3], args[5], args[7], args[9]
	n, err := strconv.Atoi(nStr)
	if err != nil {
		return fmt.Errorf("mjclient: invalid N %q: %w", nStr, err)
	}

	conn, err := net.Dial("tcp", leaderAddr)
	if err != nil {
		return fmt.Errorf("mjclient: dialing leader: %w", err)
	}
	defer conn.Close()

	if err := wire.WriteU8(conn, leader.ReqSQL); err != nil {
		return err
	}
	if err := wire.WriteI32(conn, int32(n)); err != nil {
		return err
	}
	if err := wire.WriteString(conn, src); err != nil {
		return err
	}
	if err := wire.WriteString(conn, regex); err != nil {
		return err
	}
	if err := wire.WriteString(conn, dst); err != nil {
		return err
	}
	return readReply(conn)
}

func readReply(conn net.Conn) error {
	status, err := wire.ReadU8(conn)
	if err != nil {
		return fmt.Errorf("mjclient: reading reply: %w", err)
	}
	if status != leader.ReplySuccess {
		return fmt.Errorf("mjclient: leader reported an error")
	}
	fmt.Println("ok")
	return nil
}
