// Command sheraf-demo declares a few models and runs the sheraf maintenance
// commands against them, plus a seed command that fills the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/andreyvit/sheraf"
	"github.com/andreyvit/sheraf/cli"
)

var seed = cli.Command{
	Name:  "seed",
	Usage: "[-n count]: create demo horses and cowboys",
	Run:   runSeed,
}

func runSeed(ctx context.Context, app *cli.App, args []string) error {
	fl := flag.NewFlagSet("seed", flag.ContinueOnError)
	n := fl.Int("n", 10, "number of cowboys")
	if err := fl.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrUsage, err)
	}

	breeds := []string{"mustang", "appaloosa", "quarter"}
	return sheraf.Attempt(ctx, app.DB(), sheraf.AttemptOptions{}, func(ctx context.Context, c *sheraf.Conn) error {
		for i := range *n {
			horse, err := horses.Create(c, sheraf.Values{
				"name":  fmt.Sprintf("horse %d", i),
				"breed": breeds[i%len(breeds)],
			})
			if err != nil {
				return err
			}
			cowboy, err := cowboys.Create(c, sheraf.Values{
				"name":   fmt.Sprintf("cowboy %d", i),
				"email":  fmt.Sprintf("cowboy%d@example.com", i),
				"age":    20 + i%30,
				"horse":  horse,
				"skills": []any{"lasso", breeds[i%len(breeds)] + " riding"},
			})
			if err != nil {
				return err
			}
			if err := cowboy.Set("gold", i*10); err != nil {
				return err
			}
		}
		app.Logger().Info("seeded", zap.Int("cowboys", *n))
		_, err := fmt.Fprintf(app.Out(), "seeded %d cowboys\n", *n)
		return err
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := cli.Run(ctx, os.Args[1:], os.Stdout, seed)
	if errors.Is(err, cli.ErrUsage) {
		fmt.Fprintf(os.Stderr, "sheraf-demo: %v\n", err)
		os.Exit(2)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "sheraf-demo: %v\n", err)
		os.Exit(1)
	}
}
