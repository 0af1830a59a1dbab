package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dwizi/mind-bridge/internal/app"
	"github.com/dwizi/mind-bridge/internal/config"
	"github.com/dwizi/mind-bridge/internal/session"
)

func newPersonasCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Manage the persona catalog in the configured store",
	}
	cmd.AddCommand(newPersonasListCommand())
	cmd.AddCommand(newPersonasImportCommand(logger))
	return cmd
}

func newPersonasListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every persona",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := app.OpenStore(cmd.Context(), config.FromEnv())
			if err != nil {
				return err
			}
			defer backend.Close()

			personas, err := backend.ListPersonas(cmd.Context())
			if err != nil {
				return err
			}
			if len(personas) == 0 {
				cmd.Println("no personas")
				return nil
			}
			for _, persona := range personas {
				cmd.Println(formatPersona(persona))
			}
			return nil
		},
	}
}

func newPersonasImportCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert personas from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			personas, err := session.LoadPersonasFile(args[0])
			if err != nil {
				return err
			}
			backend, err := app.OpenStore(cmd.Context(), config.FromEnv())
			if err != nil {
				return err
			}
			defer backend.Close()

			count, err := app.ImportPersonas(cmd.Context(), backend, personas)
			if err != nil {
				return err
			}
			if logger != nil {
				logger.Info("personas imported", "path", args[0], "count", count)
			}
			cmd.Printf("imported %d personas\n", count)
			return nil
		},
	}
}

func formatPersona(persona session.Persona) string {
	if persona.Description == "" {
		return fmt.Sprintf("%s\t%s", persona.ID, persona.Name)
	}
	return fmt.Sprintf("%s\t%s\t%s", persona.ID, persona.Name, persona.Description)
}
