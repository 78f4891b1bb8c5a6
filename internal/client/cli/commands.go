package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/envvault/internal/client/remote"
	"github.com/dmitrijs2005/envvault/internal/client/services"
	"github.com/dmitrijs2005/envvault/internal/common"
	"github.com/dmitrijs2005/envvault/internal/cryptox"
	"github.com/dmitrijs2005/envvault/internal/totp"
	"github.com/dmitrijs2005/envvault/internal/vault"
)

const secretMask = "********"

var errPasswordsDiffer = errors.New("passwords do not match")

// getPassword is an indirection used to facilitate testing.
var getPassword = GetPassword

func (a *App) readSecret(prompt string) (string, error) {
	b, err := getPassword(a.out, prompt)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(b)
	return string(b), nil
}

func (a *App) readNewPassword(prompt string) (string, error) {
	pw, err := a.readSecret(prompt)
	if err != nil {
		return "", err
	}
	confirm, err := a.readSecret("Repeat " + strings.ToLower(prompt[:1]) + prompt[1:])
	if err != nil {
		return "", err
	}
	if pw != confirm {
		return "", errPasswordsDiffer
	}
	return pw, nil
}

// report prints a user-facing message for err and returns it unchanged.
func (a *App) report(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	a.log.Debug(ctx, "command failed", "command", op, "error", err)

	switch {
	case errors.Is(err, vault.ErrSessionLocked):
		printlnFn("Vault is locked, run 'unlock' first")
	case errors.Is(err, vault.ErrAuthentication):
		printlnFn("Wrong master password")
	case errors.Is(err, totp.ErrInvalidCode):
		printlnFn("Invalid code, check the authenticator clock and try again")
	case errors.Is(err, common.ErrInvalidToken):
		printlnFn("Access token rejected by the server, get a new one")
	case errors.Is(err, services.ErrNotSetUp):
		printlnFn("No vault yet, run 'setup' first")
	case errors.Is(err, common.ErrorAlreadyExists):
		printlnFn("A vault is already set up")
	case errors.Is(err, remote.ErrUnavailable):
		a.setMode(ctx, ModeOffline)
		printlnFn("Server unavailable, try again later")
	case errors.Is(err, common.ErrorNotFound):
		printlnFn("Not found")
	default:
		printlnFn("Error:", err)
	}
	return err
}

func (a *App) Setup(ctx context.Context) error {
	printlnFn(fmt.Sprintf("Choose a master password: at least %d characters with upper and lower case letters and a digit.",
		cryptox.MinMasterPasswordLength))
	pw, err := a.readNewPassword("Master password")
	if err != nil {
		return a.report(ctx, "setup", err)
	}
	if err := a.svc.Setup(ctx, pw); err != nil {
		return a.report(ctx, "setup", err)
	}
	printlnFn(fmt.Sprintf("Vault created (strength %d/100). Run 'unlock' to start.", cryptox.PasswordStrength(pw)))
	return nil
}

func (a *App) Unlock(ctx context.Context) error {
	if a.svc.Status() == vault.Unlocked {
		printlnFn("Already unlocked")
		return nil
	}
	pw, err := a.readSecret("Master password")
	if err != nil {
		return a.report(ctx, "unlock", err)
	}
	if err := a.svc.Unlock(ctx, pw); err != nil {
		return a.report(ctx, "unlock", err)
	}
	printlnFn(fmt.Sprintf("Unlocked. Auto-lock after %s of inactivity.", a.svc.AutoLock()))
	return nil
}

func (a *App) Lock(ctx context.Context) error {
	a.svc.Lock()
	printlnFn("Locked")
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st := a.svc.Status()
	if st != vault.Unlocked {
		printlnFn(fmt.Sprintf("Vault is %s (mode %s)", st, a.Mode()))
		return nil
	}
	printlnFn(fmt.Sprintf("Vault is unlocked (mode %s), auto-lock in %s (period %s)",
		a.Mode(), a.svc.TimeRemaining().Round(time.Second), a.svc.AutoLock()))
	return nil
}

// Set stores name. Without an inline value the value is read without echo
// and the variable is marked secret.
func (a *App) Set(ctx context.Context, name string, value []string) error {
	if a.svc.Status() != vault.Unlocked {
		return a.report(ctx, "set", vault.ErrSessionLocked)
	}
	secret := len(value) == 0
	v := strings.Join(value, " ")
	if secret {
		var err error
		if v, err = a.readSecret("Value for " + name); err != nil {
			return a.report(ctx, "set", err)
		}
	}
	if _, err := a.svc.SetVariable(ctx, name, v, secret); err != nil {
		return a.report(ctx, "set", err)
	}
	printlnFn("Saved", name)
	return nil
}

func (a *App) Get(ctx context.Context, name string) error {
	v, err := a.svc.GetVariable(ctx, name)
	if err != nil {
		return a.report(ctx, "get", err)
	}
	printlnFn(v.Value)
	return nil
}

func (a *App) List(ctx context.Context) error {
	vs, err := a.svc.ListVariables(ctx)
	if err != nil {
		return a.report(ctx, "list", err)
	}
	if len(vs) == 0 {
		printlnFn("No variables")
		return nil
	}
	for _, v := range vs {
		value := v.Value
		if v.IsSecret {
			value = secretMask
		}
		printlnFn(fmt.Sprintf("%s=%s", v.Name, value))
	}
	return nil
}

func (a *App) Delete(ctx context.Context, name string) error {
	if err := a.svc.DeleteVariable(ctx, name); err != nil {
		return a.report(ctx, "delete", err)
	}
	printlnFn("Deleted", name)
	return nil
}

// Rotate changes the master password. The vault is locked afterwards and
// must be unlocked with the new password.
func (a *App) Rotate(ctx context.Context) error {
	current, err := a.readSecret("Current master password")
	if err != nil {
		return a.report(ctx, "rotate", err)
	}
	next, err := a.readNewPassword("New master password")
	if err != nil {
		return a.report(ctx, "rotate", err)
	}
	n, err := a.svc.ChangeMasterPassword(ctx, current, next)
	if err != nil {
		return a.report(ctx, "rotate", err)
	}
	printlnFn(fmt.Sprintf("Master password changed, %d variables re-encrypted. Vault locked; unlock with the new password.", n))
	return nil
}

func (a *App) AutoLock(ctx context.Context, minutes string) error {
	m, err := strconv.Atoi(minutes)
	if err != nil {
		return a.report(ctx, "autolock", vault.ErrInvalidAutoLock)
	}
	if err := a.svc.SetAutoLock(time.Duration(m) * time.Minute); err != nil {
		return a.report(ctx, "autolock", err)
	}
	printlnFn(fmt.Sprintf("Auto-lock set to %s", a.svc.AutoLock()))
	return nil
}

func (a *App) TwoFactor(ctx context.Context) error {
	secret, uri, err := a.svc.EnrollTwoFactor(ctx)
	if errors.Is(err, common.ErrorAlreadyExists) {
		printlnFn("Two-factor authentication is already enabled")
		return err
	}
	if err != nil {
		return a.report(ctx, "2fa", err)
	}
	printlnFn("Secret:", secret)
	printlnFn("Add it to your authenticator app:", uri)
	printlnFn("Then confirm with: 2fa verify CODE")
	return nil
}

func (a *App) VerifyTwoFactor(ctx context.Context, code string) error {
	err := a.svc.VerifyTwoFactor(ctx, code)
	if errors.Is(err, common.ErrorNotFound) {
		printlnFn("No pending enrollment, run '2fa' first")
		return err
	}
	if err != nil {
		return a.report(ctx, "2fa verify", err)
	}
	printlnFn("Two-factor authentication enabled")
	return nil
}
