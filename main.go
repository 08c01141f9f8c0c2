package main

import (
	"context"
	"fmt"
	"github.com/RichardKnop/machinery/v1/log"
	"github.com/andygello555/try-playwright/browser"
	"github.com/andygello555/try-playwright/control"
	"github.com/andygello555/try-playwright/db"
	"github.com/andygello555/try-playwright/db/models"
	"github.com/andygello555/try-playwright/files"
	"github.com/andygello555/try-playwright/logagg"
	"github.com/andygello555/try-playwright/sock"
	task "github.com/andygello555/try-playwright/tasks"
	"github.com/andygello555/try-playwright/web"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var (
	cliApp *cli.App
)

func init() {
	// Initialise a CLI app
	cliApp = cli.NewApp()
	cliApp.Name = "try-playwright"
	cliApp.Usage = "the services of the try-playwright playground"
	cliApp.Version = "0.0.0"
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openDB sets up the global DB instance.
func openDB() error {
	start := time.Now().UTC()
	log.INFO.Printf("Setting up DB at %s", start.String())
	if err := db.Open(globalConfig.DB); err != nil {
		return err
	}
	log.INFO.Printf("Done setting up DB in %s", time.Now().UTC().Sub(start).String())
	return nil
}

func runControl() (err error) {
	if err = openDB(); err != nil {
		return err
	}
	defer db.Close()
	logagg.CreateClient(globalConfig.Logs)

	var broker *task.Broker
	if broker, err = task.NewBroker(globalConfig.Tasks); err != nil {
		return err
	}

	server := control.NewServer(broker, &models.GormStore{DB: db.DB}, globalConfig.Control)
	ctx, cancel := signalContext()
	defer cancel()
	log.INFO.Printf("Control service listening on %s", globalConfig.Control.Addr)
	return web.ListenAndServe(ctx, globalConfig.Control.Addr, server.Routes(web.NewLogger("control", globalConfig.Logs.Level)))
}

func runFiles() (err error) {
	var store files.ObjectStore
	if globalConfig.Files.Memory {
		log.WARNING.Printf("Storing uploads in memory")
		store = files.NewMemoryStore(globalConfig.Storage.Bucket)
	} else if store, err = files.NewS3Store(globalConfig.Storage); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var created bool
	if created, err = store.EnsureBucket(ctx); err != nil {
		return err
	}
	if created {
		log.INFO.Printf("Created bucket with a %d day expiry", files.ExpirationDays)
	}

	server := files.NewServer(store, globalConfig.Files)
	log.INFO.Printf("File service listening on %s", globalConfig.Files.Addr)
	return web.ListenAndServe(ctx, globalConfig.Files.Addr, server.Routes(web.NewLogger("file", globalConfig.Logs.Level)))
}

func runLogs() error {
	store := logagg.NewStore(time.Duration(globalConfig.Logs.TTL) * time.Minute)
	ctx, cancel := signalContext()
	defer cancel()
	go store.CleanupEvery(time.Duration(globalConfig.Logs.CleanupInterval)*time.Minute, ctx.Done())

	server := logagg.NewServer(store)
	log.INFO.Printf("Log aggregator listening on %s", globalConfig.Logs.Addr)
	return web.ListenAndServe(ctx, globalConfig.Logs.Addr, server.Routes(web.NewLogger("log-aggregator", globalConfig.Logs.Level)))
}

// streamURL returns the websocket URL of the log stream for the given test on the log aggregator at base.
func streamURL(base, testID string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", errors.Wrapf(err, "could not parse log aggregator URL %q", base)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.JoinPath("logs", testID, "stream").String(), nil
}

func main() {
	cliApp.Before = func(c *cli.Context) error {
		if err := LoadConfig(); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	}

	// Set the CLI app commands
	cliApp.Commands = []cli.Command{
		{
			Name:  "control",
			Usage: "run the control service",
			Action: func(c *cli.Context) error {
				if err := runControl(); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:  "worker",
			Usage: "launch an execution worker",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "tag",
					Usage: "the consumer tag of the worker, which should be unique for each worker",
					Value: "try_playwright_worker",
				},
			},
			Action: func(c *cli.Context) error {
				if err := startWorker(c.String("tag")); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:  "files",
			Usage: "run the file service",
			Action: func(c *cli.Context) error {
				if err := runFiles(); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:  "logs",
			Usage: "run the log aggregator",
			Action: func(c *cli.Context) error {
				if err := runLogs(); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:      "logs-tail",
			Usage:     "stream the logs of a test from the log aggregator",
			ArgsUsage: "<testId>",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "attempts",
					Usage: "the number of times to try connecting to the log aggregator",
					Value: 5,
				},
			},
			Action: func(c *cli.Context) (err error) {
				if !c.Args().Present() {
					return cli.NewExitError("no test ID given", 1)
				}
				var stream string
				if stream, err = streamURL(globalConfig.Logs.URL, c.Args().First()); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				ctx, cancel := signalContext()
				defer cancel()
				if err = sock.Tail(ctx, stream, os.Stdout, c.Int("attempts")); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:  "example",
			Usage: "list, run, or install the browsers for the built-in example flows",
			Subcommands: []cli.Command{
				{
					Name:  "list",
					Usage: "list the built-in example flows",
					Action: func(c *cli.Context) error {
						examples, err := browser.Examples()
						if err != nil {
							return cli.NewExitError(err.Error(), 1)
						}
						for _, example := range examples {
							fmt.Println(example)
						}
						return nil
					},
				},
				{
					Name:      "run",
					Usage:     "run a built-in example flow",
					ArgsUsage: "<name>",
					Flags: []cli.Flag{
						cli.BoolTFlag{
							Name:  "headless",
							Usage: "whether to run the browser without a window",
						},
						cli.StringFlag{
							Name:  "dir",
							Usage: "the directory that screenshots and PDFs are written to",
							Value: ".",
						},
					},
					Action: func(c *cli.Context) error {
						if !c.Args().Present() {
							return cli.NewExitError("no example given", 1)
						}
						flow, err := browser.Example(c.Args().First())
						if err != nil {
							return cli.NewExitError(err.Error(), 1)
						}

						opts := globalConfig.Browser.Options()
						opts.Headless = c.BoolT("headless")
						opts.Dir = c.String("dir")
						ctx, cancel := signalContext()
						defer cancel()
						start := time.Now().UTC()
						log.INFO.Printf("Running %s", flow)
						if err = browser.RunFlow(ctx, flow, opts, &throughWriter{logger: log.INFO}); err != nil {
							return cli.NewExitError(err.Error(), 1)
						}
						log.INFO.Printf("Done running %s in %s", flow.Name, time.Now().UTC().Sub(start).String())
						return nil
					},
				},
				{
					Name:      "install",
					Usage:     "install the playwright driver and browsers",
					ArgsUsage: "[engine...]",
					Action: func(c *cli.Context) error {
						engines := make([]browser.Engine, 0, len(c.Args()))
						for _, arg := range c.Args() {
							engine, err := browser.ParseEngine(arg)
							if err != nil {
								return cli.NewExitError(err.Error(), 1)
							}
							engines = append(engines, engine)
						}
						if err := browser.Install(engines...); err != nil {
							return cli.NewExitError(err.Error(), 1)
						}
						return nil
					},
				},
			},
		},
		{
			Name:      "send",
			Usage:     "send a file to the control service and print the response",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "language",
					Usage: fmt.Sprintf("the language of the file, one of %v, inferred from the extension if not given", workertypes.SupportedLanguages()),
				},
				cli.StringFlag{
					Name:  "test-id",
					Usage: "the test ID used to correlate the logs of the run",
				},
			},
			Action: func(c *cli.Context) error {
				if !c.Args().Present() {
					return cli.NewExitError("no file given", 1)
				}
				language := workertypes.Language(c.String("language"))
				if language != "" && !language.IsValid() {
					return cli.NewExitError(fmt.Sprintf("%q is not a supported language", language), 1)
				}
				ctx, cancel := signalContext()
				defer cancel()
				if err := sendFile(ctx, globalConfig.Control.URL, c.Args().First(), language, c.String("test-id"), os.Stdout); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:      "migrate",
			Usage:     "migrate the shares from a legacy SQLite database",
			ArgsUsage: "<sqlite path>",
			Action: func(c *cli.Context) (err error) {
				if !c.Args().Present() {
					return cli.NewExitError("no SQLite database given", 1)
				}
				var shares []*models.Share
				if shares, err = readLegacyShares(c.Args().First()); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				if err = openDB(); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				defer db.Close()

				var migrated int
				if migrated, err = migrateShares(context.Background(), shares, &models.GormStore{DB: db.DB}, os.Stderr); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				fmt.Printf("\nMigrated %d/%d shares\n", migrated, len(shares))
				return nil
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.FATAL.Fatalln(err)
	}
}
