package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/covm/covm/core"
)

func compileCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "compile <source.json>",
		Short: "compile an operation tree into a bytecode Program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var ops []core.Operation
			if err := json.Unmarshal(data, &ops); err != nil {
				return err
			}
			prog, verr := core.Compile(ops)
			if verr != nil {
				return verr
			}
			b, err := json.MarshalIndent(prog, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				os.Stdout.Write(append(b, '\n'))
				return nil
			}
			return os.WriteFile(out, append(b, '\n'), 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the compiled program here instead of stdout")
	return cmd
}
