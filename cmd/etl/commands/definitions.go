package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/feed"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
)

// DefinitionsCmd manages job definitions
var DefinitionsCmd = &cobra.Command{
	Use:     "definitions",
	Aliases: []string{"defs"},
	Short:   "Create and list job definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var definitionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a job definition",
	Long: `Create a job definition. The scheduler provisions its first instance on
the next tick and then every --interval.

Example:
  etl definitions add --tenant acme --integration orders --type jsonl --interval 1h`,
	RunE: runDefinitionsAdd,
}

var definitionsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List job definitions",
	RunE:  runDefinitionsList,
}

var (
	defID          string
	defTenant      string
	defIntegration string
	defType        string
	defProcessor   string
	defInterval    time.Duration
	defPriority    int
	defInactive    bool
	defActiveOnly  bool
)

func init() {
	DefinitionsCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "Database path (overrides config)")

	definitionsAddCmd.Flags().StringVar(&defID, "id", "", "Definition ID (generated when empty)")
	definitionsAddCmd.Flags().StringVar(&defTenant, "tenant", "", "Tenant ID")
	definitionsAddCmd.Flags().StringVar(&defIntegration, "integration", "", "Integration ID")
	definitionsAddCmd.Flags().StringVar(&defType, "type", "", "Integration type used in storage keys")
	definitionsAddCmd.Flags().StringVar(&defProcessor, "processor", feed.ProcessorName, "Processor that runs the job")
	definitionsAddCmd.Flags().DurationVar(&defInterval, "interval", 0, "Provisioning interval (0 runs once)")
	definitionsAddCmd.Flags().IntVar(&defPriority, "priority", 0, "Instance priority, lower runs first")
	definitionsAddCmd.Flags().BoolVar(&defInactive, "inactive", false, "Create the definition disabled")
	_ = definitionsAddCmd.MarkFlagRequired("tenant")
	_ = definitionsAddCmd.MarkFlagRequired("integration")
	_ = definitionsAddCmd.MarkFlagRequired("type")

	definitionsListCmd.Flags().BoolVar(&defActiveOnly, "active", false, "Only active definitions")

	DefinitionsCmd.AddCommand(definitionsAddCmd)
	DefinitionsCmd.AddCommand(definitionsListCmd)
}

func runDefinitionsAdd(cmd *cobra.Command, args []string) error {
	if defInterval < 0 {
		return errors.NewInvalidRequestError("interval must not be negative")
	}

	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	id := defID
	if id == "" {
		id = uuid.NewString()
	}
	next := time.Now()
	def := &jobs.Definition{
		ID:              id,
		TenantID:        defTenant,
		IntegrationID:   defIntegration,
		IntegrationType: defType,
		ProcessorName:   defProcessor,
		IsActive:        !defInactive,
		IntervalSeconds: int(defInterval / time.Second),
		NextRunAt:       &next,
		DefaultPriority: defPriority,
	}

	if err := jobs.NewSQLStore(database).CreateDefinition(cmd.Context(), def); err != nil {
		return err
	}
	pterm.Success.Printf("Created definition %s (%s)\n", def.ID, def.ProcessorName)
	return nil
}

func runDefinitionsList(cmd *cobra.Command, args []string) error {
	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	defs, err := jobs.NewSQLStore(database).ListDefinitions(cmd.Context(), defActiveOnly)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		pterm.Info.Println("No job definitions")
		return nil
	}

	data := pterm.TableData{{"ID", "Tenant", "Integration", "Type", "Processor", "Active", "Interval", "Next run"}}
	for _, d := range defs {
		next := "-"
		if d.NextRunAt != nil {
			next = d.NextRunAt.Local().Format(time.DateTime)
		}
		data = append(data, []string{
			d.ID,
			d.TenantID,
			d.IntegrationID,
			d.IntegrationType,
			d.ProcessorName,
			strconv.FormatBool(d.IsActive),
			d.Interval().String(),
			next,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return errors.Wrap(err, "failed to render definitions")
	}
	fmt.Printf("%d definition(s)\n", len(defs))
	return nil
}
