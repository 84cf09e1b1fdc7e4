package main

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/stellarkit/modelsync/modelsync"
)

const ModelSyncCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `ModelSync control.

Usage:
    modelsyncctl token --key=<key_file> --user=<user_oid>
        [--user_name=<user_name>] [--ttl=<ttl>]
    modelsyncctl show [--config=<config>] <oid>
    modelsyncctl export [--config=<config>] --project=<project_oid>
        [--out=<file>]
    modelsyncctl import [--config=<config>] --user=<user_oid> <file>
    modelsyncctl rollup [--config=<config>] --project=<project_oid>
    modelsyncctl sync [--config=<config>] --jwt=<jwt>
        [--project=<project_oid>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          Config file path.
    --key=<key_file>           PEM-encoded ed25519 private key.
    --user=<user_oid>          Local user oid.
    --user_name=<user_name>    Display name embedded in the token.
    --ttl=<ttl>                Token lifetime [default: 24h].
    --project=<project_oid>    Project oid.
    --out=<file>               Output file (default stdout).
    --jwt=<jwt>                Session token minted with the token command.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ModelSyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	} else if show_, _ := opts.Bool("show"); show_ {
		show(opts)
	} else if export_, _ := opts.Bool("export"); export_ {
		export(opts)
	} else if import_, _ := opts.Bool("import"); import_ {
		importFile(opts)
	} else if rollup_, _ := opts.Bool("rollup"); rollup_ {
		rollup(opts)
	} else if sync_, _ := opts.Bool("sync"); sync_ {
		sync(opts)
	}
}

func token(opts docopt.Opts) {
	keyFile, _ := opts.String("--key")
	userStr, _ := opts.String("--user")
	userName, _ := opts.String("--user_name")
	ttlStr, _ := opts.String("--ttl")

	user, err := modelsync.ParseOid(userStr)
	if err != nil {
		Err.Fatalf("Bad user oid: %s", err)
	}
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		Err.Fatalf("Bad ttl: %s", err)
	}

	privateKey := loadPrivateKey(keyFile)
	clientId := modelsync.NewOid()
	tokenStr, err := modelsync.MintSessionToken(privateKey, user, userName, clientId, ttl)
	if err != nil {
		Err.Fatalf("Could not mint token: %s", err)
	}
	Out.Printf("%s", tokenStr)
}

func show(opts docopt.Opts) {
	oidStr, _ := opts.String("<oid>")
	oid, err := modelsync.ParseOid(oidStr)
	if err != nil {
		Err.Fatalf("Bad oid: %s", err)
	}

	ctx := context.Background()
	client, cleanup := offlineClient(ctx, opts, modelsync.Oid{})
	defer cleanup()

	product, err := client.GetObject(ctx, oid)
	if err != nil {
		Err.Fatalf("Query failed: %s", err)
	}
	if product == nil {
		Err.Fatalf("No object %s", oid)
	}
	Out.Printf("%s %s (%s) type=%s rev=%d state=%s",
		product.Oid, product.HumanId, product.Name,
		product.ProductType, product.Rev, product.State)
	values, err := client.Store().ListParameterValues(ctx, oid)
	if err != nil {
		Err.Fatalf("Query failed: %s", err)
	}
	for _, value := range values {
		computed := ""
		if value.Computed {
			computed = " (computed)"
		}
		Out.Printf("  %s = %v%s", value.Symbol, value.Value, computed)
	}
	edges, err := client.GetAssemblyChildren(ctx, oid)
	if err != nil {
		Err.Fatalf("Query failed: %s", err)
	}
	for _, edge := range edges {
		if edge.IsTbd() {
			Out.Printf("  position %s: TBD (%s) x%v", edge.Oid, edge.ProductType, edge.Quantity)
		} else {
			Out.Printf("  position %s: %s x%v", edge.Oid, edge.Child, edge.Quantity)
		}
	}
}

func export(opts docopt.Opts) {
	projectStr, _ := opts.String("--project")
	project, err := modelsync.ParseOid(projectStr)
	if err != nil {
		Err.Fatalf("Bad project oid: %s", err)
	}

	ctx := context.Background()
	client, cleanup := offlineClient(ctx, opts, modelsync.Oid{})
	defer cleanup()

	document, err := client.ExportProject(ctx, project)
	if err != nil {
		Err.Fatalf("Export failed: %s", err)
	}

	out := os.Stdout
	if outPath, err := opts.String("--out"); err == nil && outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			Err.Fatalf("Could not create %s: %s", outPath, err)
		}
		defer f.Close()
		out = f
	}
	if err := modelsync.WriteExport(out, document); err != nil {
		Err.Fatalf("Export failed: %s", err)
	}
}

func importFile(opts docopt.Opts) {
	path, _ := opts.String("<file>")
	userStr, _ := opts.String("--user")
	user, err := modelsync.ParseOid(userStr)
	if err != nil {
		Err.Fatalf("Bad user oid: %s", err)
	}

	f, err := os.Open(path)
	if err != nil {
		Err.Fatalf("Could not open %s: %s", path, err)
	}
	defer f.Close()

	document, err := modelsync.ReadExport(f)
	if err != nil {
		Err.Fatalf("Import failed: %s", err)
	}

	ctx := context.Background()
	client, cleanup := offlineClient(ctx, opts, user)
	defer cleanup()

	if err := client.ImportDocument(ctx, document); err != nil {
		Err.Fatalf("Import failed: %s", err)
	}
	if err := client.Rollup().Settle(ctx); err != nil {
		Err.Fatalf("Roll-up failed: %s", err)
	}
	Out.Printf("Imported %d products.", len(document.Products))
}

func rollup(opts docopt.Opts) {
	projectStr, _ := opts.String("--project")
	project, err := modelsync.ParseOid(projectStr)
	if err != nil {
		Err.Fatalf("Bad project oid: %s", err)
	}

	ctx := context.Background()
	client, cleanup := offlineClient(ctx, opts, modelsync.Oid{})
	defer cleanup()

	if err := client.Rollup().InvalidateAll(ctx); err != nil {
		Err.Fatalf("Roll-up failed: %s", err)
	}
	if err := client.Rollup().Settle(ctx); err != nil {
		Err.Fatalf("Roll-up failed: %s", err)
	}
	products, err := client.ListByProject(ctx, project)
	if err != nil {
		Err.Fatalf("Query failed: %s", err)
	}
	Out.Printf("Recomputed %d products.", len(products))
}

func sync(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")
	byToken, err := modelsync.ParseSessionTokenUnverified(jwt)
	if err != nil {
		Err.Fatalf("Bad token: %s", err)
	}

	config := loadConfig(opts)
	ctx := context.Background()

	store, err := modelsync.OpenStore(config.StorePath)
	if err != nil {
		Err.Fatalf("Could not open store: %s", err)
	}
	defer store.Close()

	sessionCtx := &modelsync.SessionContext{
		User:     byToken.UserId,
		ClientId: byToken.ClientId,
	}
	if projectStr, err := opts.String("--project"); err == nil && projectStr != "" {
		project, err := modelsync.ParseOid(projectStr)
		if err != nil {
			Err.Fatalf("Bad project oid: %s", err)
		}
		sessionCtx.ActiveProject = project
	}

	bus := modelsync.NewWsBusWithDefaults(ctx, config.PlatformUrl)
	client := modelsync.NewClient(ctx, store, bus, sessionCtx, config.ClientSettings())
	defer client.Close()

	done := make(chan struct{})
	session := client.Login(&modelsync.SessionAuth{
		Token:      jwt,
		ClientId:   byToken.ClientId,
		AppVersion: config.AppVersion,
	})
	session.AddStateCallback(func(state modelsync.SessionState) {
		Out.Printf("session: %s", state)
	})
	session.AddErrorCallback(func(syncError *modelsync.SyncError) {
		Err.Printf("session error: %s", syncError)
		close(done)
	})
	session.AddPermissionFailureCallback(func(authorizationError *modelsync.AuthorizationError) {
		Err.Printf("held: %s", authorizationError)
	})

	<-done
}

func loadConfig(opts docopt.Opts) *modelsync.Config {
	configPath, _ := opts.String("--config")
	config, err := modelsync.LoadConfig(configPath)
	if err != nil {
		Err.Fatalf("Bad config: %s", err)
	}
	return config
}

func offlineClient(ctx context.Context, opts docopt.Opts, user modelsync.Oid) (*modelsync.Client, func()) {
	config := loadConfig(opts)
	store, err := modelsync.OpenStore(config.StorePath)
	if err != nil {
		Err.Fatalf("Could not open store: %s", err)
	}
	sessionCtx := &modelsync.SessionContext{
		User:     user,
		ClientId: modelsync.NewOid(),
	}
	bus := modelsync.NewWsBusWithDefaults(ctx, config.PlatformUrl)
	client := modelsync.NewClient(ctx, store, bus, sessionCtx, config.ClientSettings())
	return client, func() {
		client.Close()
		store.Close()
	}
}

func loadPrivateKey(path string) ed25519.PrivateKey {
	data, err := os.ReadFile(path)
	if err != nil {
		Err.Fatalf("Could not read key: %s", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		Err.Fatalf("No PEM block in %s", path)
	}
	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		fmt.Fprint(os.Stderr, "Key passphrase: ")
		passphrase, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Fatalf("Could not read passphrase: %s", err)
		}
		der, err = x509.DecryptPEMBlock(block, passphrase)
		if err != nil {
			Err.Fatalf("Could not decrypt key: %s", err)
		}
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		Err.Fatalf("Could not parse key: %s", err)
	}
	privateKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		Err.Fatalf("Key in %s is not ed25519", path)
	}
	return privateKey
}
