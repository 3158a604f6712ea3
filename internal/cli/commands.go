// Package cli implements the interactive command-line interface for
// Shepherd: live session status, lifecycle control, chat, and key
// management.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/shepherd-project/shepherd/internal/config"
	"github.com/shepherd-project/shepherd/internal/session"
	"github.com/shepherd-project/shepherd/internal/store"
	"github.com/shepherd-project/shepherd/internal/util"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	registry *session.Registry
	shutdown func()
}

// NewCLI creates a new CLI handler. shutdown is invoked on quit/exit.
func NewCLI(cfg *config.Config, registry *session.Registry, shutdown func()) *CLI {
	return &CLI{
		cfg:      cfg,
		registry: registry,
		shutdown: shutdown,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nShepherd CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("shepherd> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "start":
		return c.cmdStart(args)
	case "stop":
		return c.cmdStop(args)
	case "reconnect":
		return c.cmdReconnect(args)
	case "guard":
		return c.cmdGuard(args)
	case "2fa":
		return c.cmdTwoFactor(args)
	case "message", "msg":
		return c.cmdMessage(args)
	case "redeem":
		return c.cmdRedeem(args)
	case "import":
		return c.cmdImport(args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down Shepherd...")
		c.shutdown()
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println(`
Available commands:
  status, s                 Show all sessions
  start <account>           Start a session
  stop <account>            Stop a session
  reconnect <account>       Force a reconnect
  guard <account> <code>    Supply an email guard code
  2fa <account> <code>      Supply a two-factor code
  message <account> <text>  Send a chat message to the master group
  redeem <account> <key>    Queue an activation key
  import <account> <file>   Import a key file (deleted after import)
  quit, exit, q             Shut down Shepherd
  help, h, ?                Show this help`)
}

// printStatus renders the session table.
func (c *CLI) printStatus() {
	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Account", "State", "Account ID", "Occupied", "Wallet", "Queued Keys"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, st := range c.registry.Statuses() {
		accountID := "-"
		if st.AccountID != 0 {
			accountID = fmt.Sprintf("%d", st.AccountID)
		}
		occupied := "no"
		if st.PlayingBlocked || st.LibraryLocked {
			occupied = "yes"
		}
		wallet := st.WalletCurrency
		if wallet == "" {
			wallet = "-"
		}

		tw.Append([]string{
			st.Name,
			st.State,
			accountID,
			occupied,
			wallet,
			fmt.Sprintf("%d", st.QueuedKeys),
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) getSession(args []string) (*session.Session, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("account name required")
	}
	sess, ok := c.registry.Get(args[0])
	if !ok {
		return nil, fmt.Errorf("unknown account %q", args[0])
	}
	return sess, nil
}

func (c *CLI) cmdStart(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("account name required")
	}
	sess, err := c.registry.Add(args[0])
	if err != nil {
		return err
	}
	sess.Start()
	fmt.Printf("Session %s starting\n", args[0])
	return nil
}

func (c *CLI) cmdStop(args []string) error {
	sess, err := c.getSession(args)
	if err != nil {
		return err
	}
	sess.Stop()
	fmt.Printf("Session %s stopping\n", sess.Name())
	return nil
}

func (c *CLI) cmdReconnect(args []string) error {
	sess, err := c.getSession(args)
	if err != nil {
		return err
	}
	sess.Reconnect()
	fmt.Println("Reconnection initiated")
	return nil
}

func (c *CLI) cmdGuard(args []string) error {
	sess, err := c.getSession(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: guard <account> <code>")
	}
	sess.SupplyGuardCode(args[1])
	fmt.Println("Guard code supplied, retrying login")
	return nil
}

func (c *CLI) cmdTwoFactor(args []string) error {
	sess, err := c.getSession(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: 2fa <account> <code>")
	}
	sess.SupplyTwoFactorCode(args[1])
	fmt.Println("Two-factor code supplied, retrying login")
	return nil
}

func (c *CLI) cmdMessage(args []string) error {
	sess, err := c.getSession(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: message <account> <text>")
	}
	groupID := sess.MasterChatGroupID()
	if groupID == 0 {
		return fmt.Errorf("no master chat group available for %s", sess.Name())
	}

	text := strings.Join(args[1:], " ")
	go func() {
		if err := sess.SendChatMessage(groupID, text); err != nil {
			fmt.Printf("\nChat send failed: %v\n", err)
		}
	}()
	fmt.Println("Message queued")
	return nil
}

func (c *CLI) cmdRedeem(args []string) error {
	sess, err := c.getSession(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: redeem <account> <key>")
	}
	if err := sess.EnqueueKey("", args[1]); err != nil {
		return err
	}
	fmt.Println("Key queued for redemption")
	return nil
}

func (c *CLI) cmdImport(args []string) error {
	sess, err := c.getSession(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: import <account> <file>")
	}

	keys, err := store.ImportKeys(args[1], util.ComponentLogger("cli"))
	if err != nil {
		return err
	}
	if err := sess.ImportQueuedKeys(keys); err != nil {
		return err
	}
	fmt.Printf("Imported %d keys\n", len(keys))
	return nil
}
