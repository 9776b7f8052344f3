/*
Package cli provides command-line helpers for the gatekeeper command.

Output Formatting:

Commands print results as aligned text, JSON or CSV:

	formatter := cli.NewFormatter(cli.FormatCSV)
	table := &cli.Table{
		Headers: []string{"PERIOD", "USED", "LIMIT"},
		Rows:    [][]string{{"2026-01-02", "3", "10"}},
	}
	if err := formatter.FormatTo(os.Stdout, table); err != nil {
		return err
	}

Errors:

ConfigErrors turns a config.ValidationError into one ConfigError per field
so commands can report every problem at once.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
