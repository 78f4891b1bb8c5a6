// Package cli provides the interactive envvault command-line client.
//
// It runs a REPL over a services.VaultService. The vault starts locked;
// the user unlocks it with the master password and it locks itself again
// after the configured period without activity. Every command counts as
// activity.
//
// Commands:
//   - setup, unlock, lock, status
//   - set NAME [VALUE], get NAME, list, delete NAME
//   - rotate, autolock MINUTES, 2fa, 2fa verify CODE
//   - help, exit
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
