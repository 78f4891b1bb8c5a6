package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies it.
type execIface interface {
	Touch()
	Setup(ctx context.Context) error
	Unlock(ctx context.Context) error
	Lock(ctx context.Context) error
	Status(ctx context.Context) error
	Set(ctx context.Context, name string, value []string) error
	Get(ctx context.Context, name string) error
	List(ctx context.Context) error
	Delete(ctx context.Context, name string) error
	Rotate(ctx context.Context) error
	AutoLock(ctx context.Context, minutes string) error
	TwoFactor(ctx context.Context) error
	VerifyTwoFactor(ctx context.Context, code string) error
}

const helpText = `Available commands:
  setup              create a new vault
  unlock             unlock with the master password
  lock               lock now
  status             show lock state and time until auto-lock
  set NAME [VALUE]   store a variable (no VALUE: prompt hidden, mark secret)
  get NAME           print a variable
  list               list variables
  delete NAME        delete a variable
  rotate             change the master password
  autolock MINUTES   set the auto-lock period (1-60)
  2fa                enroll a two-factor secret (remote mode)
  2fa verify CODE    confirm enrollment with a code from the authenticator
  exit | quit        leave the program`

// runREPL reads commands line by line and dispatches them to a until EOF or
// exit. Handlers report their own errors.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("envvault %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if cmd == "exit" || cmd == "quit" {
			printlnFn("Bye!")
			return
		}
		a.Touch()

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "setup":
			_ = a.Setup(ctx)

		case "unlock":
			_ = a.Unlock(ctx)

		case "lock":
			_ = a.Lock(ctx)

		case "status":
			_ = a.Status(ctx)

		case "set":
			if len(args) == 0 {
				printlnFn("Usage: set NAME [VALUE]")
				continue
			}
			_ = a.Set(ctx, args[0], args[1:])

		case "get":
			if len(args) != 1 {
				printlnFn("Usage: get NAME")
				continue
			}
			_ = a.Get(ctx, args[0])

		case "l", "list":
			_ = a.List(ctx)

		case "delete", "rm":
			if len(args) != 1 {
				printlnFn("Usage: delete NAME")
				continue
			}
			_ = a.Delete(ctx, args[0])

		case "rotate":
			_ = a.Rotate(ctx)

		case "autolock":
			if len(args) != 1 {
				printlnFn("Usage: autolock MINUTES")
				continue
			}
			_ = a.AutoLock(ctx, args[0])

		case "2fa":
			switch {
			case len(args) == 0:
				_ = a.TwoFactor(ctx)
			case len(args) == 2 && args[0] == "verify":
				_ = a.VerifyTwoFactor(ctx, args[1])
			default:
				printlnFn("Usage: 2fa [verify CODE]")
			}

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
