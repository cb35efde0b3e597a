package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atrium/internal/app"
	"atrium/internal/config"
	"atrium/internal/db"
	"atrium/internal/domain"
	"atrium/internal/engine"
	"atrium/internal/migrate"
	"atrium/internal/notify"
	"atrium/internal/repo"
	"atrium/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "atrium",
	Short: "Atrium CLI",
	Long: `Atrium tracks property maintenance work orders and notifies the people involved.
Core concepts:
- Workspace: your .atrium directory with the database; configs live in the DB and are imported explicitly.
- Property: the managed building that owns all work orders, photos, and history.
- Work orders: preventive, complaint, job, or repair records with codes like WO-00042;
  statuses go active -> in_progress -> review -> done, and review needs at least one photo.
- History: the append-only audit trail per work order; entries outlive the order and
  resolve actor names at read time (deleted actors show as Unknown User).
- Notifications: every change fans out to the requester and assignee (or broadcast,
  depending on config); watch live with 'atrium notify watch'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ATRIUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("property", "", "property id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("property", rootCmd.PersistentFlags().Lookup("property"))
}

func registerCommands() {
	rootCmd.AddCommand(propertyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func propertyCmd() *cobra.Command {
	prop := &cobra.Command{Use: "property", Short: "Manage properties"}
	prop.AddCommand(propertyListCmd())
	prop.AddCommand(propertyCreateCmd())
	prop.AddCommand(propertyShowCmd())
	prop.AddCommand(propertyUpdateCmd())
	prop.AddCommand(propertyDeleteCmd())
	prop.AddCommand(propertyConfigCmd())
	prop.AddCommand(propertyUseCmd())
	return prop
}

func propertyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProperties(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func propertyCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create property",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg, nil)
			p, err := e.InitProperty(cmd.Context(), id, name, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "property id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func propertyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("property")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Property.ID
				}
				p, err := e.Repo.GetProperty(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func propertyUpdateCmd() *cobra.Command {
	var status string
	var description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("property")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Property.ID
				}
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProperty(ctx, target, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProperty(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func propertyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("property")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Property.ID
				}
				return e.Repo.DeleteProperty(ctx, target)
			})
		},
	}
	return cmd
}

func propertyUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current property for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			propertyID := strings.TrimSpace(args[0])
			if propertyID == "" {
				return fmt.Errorf("property id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "ATRIUM_DEFAULT_PROPERTY", propertyID); err != nil {
				return err
			}
			fmt.Printf("Set ATRIUM_DEFAULT_PROPERTY=%s in %s/.env\n", propertyID, workspace)
			return nil
		},
	}
	return cmd
}

func propertyConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage property config",
	}
	cfg.AddCommand(propertyConfigShowCmd())
	cfg.AddCommand(propertyConfigImportCmd())
	return cfg
}

func propertyConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show property config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func propertyConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import property config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			propertyID := cfg.Property.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if propertyID == "" {
					propertyID = e.Config.Property.ID
				}
				if err := e.Repo.UpsertPropertyConfig(ctx, propertyID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect property config",
		Long:  "Config is the rulebook (stored in DB): property id/kind, work order code prefix and default priority, and the notification fan-out strategy. Import from atrium.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			var schemaVersion int
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, verr := migrate.Current(e.DB)
				if verr != nil {
					return verr
				}
				schemaVersion = v
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "schema_version": schemaVersion, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Printf("config OK (schema v%d)\n", schemaVersion)
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show property status",
		Long:  "See the scoreboard for your property: overall state, work order counts by status, and unread notifications for the acting user.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				propertyID := strings.TrimSpace(viper.GetString("property"))
				if propertyID == "" {
					propertyID = e.Config.Property.ID
				}
				p, err := e.Repo.GetProperty(ctx, propertyID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountWorkOrdersByStatus(ctx, propertyID)
				if err != nil {
					return err
				}
				unread, err := e.Repo.CountUnread(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				out := map[string]any{
					"property_id":       p.ID,
					"status":            p.Status,
					"work_order_counts": counts,
					"unread":            unread,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Property: %s (%s)\n", p.ID, p.Status)
				fmt.Println("Work orders:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Printf("Unread notifications: %d\n", unread)
				return nil
			})
		},
	}
	return cmd
}

func workOrderCmd() *cobra.Command {
	wo := &cobra.Command{
		Use:   "workorder",
		Short: "Manage work orders",
		Long:  "Work orders are the maintenance records: preventive plans, tenant complaints, contracted jobs, and unit repairs. They flow active -> in_progress -> review -> done; review needs at least one photo attached.",
	}
	wo.AddCommand(workOrderCreateCmd())
	wo.AddCommand(workOrderListCmd())
	wo.AddCommand(workOrderGetCmd())
	wo.AddCommand(workOrderUpdateCmd())
	wo.AddCommand(workOrderTransitionCmd())
	wo.AddCommand(workOrderPhotoCmd())
	wo.AddCommand(workOrderHistoryCmd())
	wo.AddCommand(workOrderDeleteCmd())
	return wo
}

func workOrderCreateCmd() *cobra.Command {
	var opts engine.WorkOrderCreateOptions
	var recurrence string
	var windowDays int
	var category, unitNumber string
	var contactName, contactPhone, contactEmail string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if opts.PropertyID == "" {
				opts.PropertyID = viper.GetString("property")
			}
			switch opts.WorkType {
			case domain.TypePreventive:
				if recurrence != "" || windowDays > 0 {
					opts.Preventive = &domain.PreventiveDetails{RecurrenceRule: recurrence, WindowDays: windowDays}
				}
			case domain.TypeJob:
				if category != "" {
					opts.Job = &domain.JobDetails{Category: category, ContactName: contactName, ContactPhone: contactPhone, ContactEmail: contactEmail}
				}
			case domain.TypeRepair:
				if unitNumber != "" {
					opts.Repair = &domain.RepairDetails{UnitNumber: unitNumber, ContactName: contactName, ContactPhone: contactPhone, ContactEmail: contactEmail}
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.PropertyID == "" {
					opts.PropertyID = e.Config.Property.ID
				}
				w, err := e.CreateWorkOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "work order id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.WorkType, "type", "complaint", "work type (preventive, complaint, job, repair)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high; defaults from config)")
	cmd.Flags().StringVar(&opts.AssetID, "asset-id", "", "asset id")
	cmd.Flags().StringVar(&opts.LocationID, "location-id", "", "location id")
	cmd.Flags().StringVar(&opts.AssignedTo, "assign", "", "assignee id")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&recurrence, "recurrence", "", "preventive recurrence rule")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "preventive execution window in days")
	cmd.Flags().StringVar(&category, "category", "", "job category")
	cmd.Flags().StringVar(&unitNumber, "unit", "", "repair unit number")
	cmd.Flags().StringVar(&contactName, "contact-name", "", "contact name")
	cmd.Flags().StringVar(&contactPhone, "contact-phone", "", "contact phone")
	cmd.Flags().StringVar(&contactEmail, "contact-email", "", "contact email")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("asset-id")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func workOrderListCmd() *cobra.Command {
	var f repo.WorkOrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.PropertyID == "" {
					f.PropertyID = viper.GetString("property")
				}
				if f.PropertyID == "" {
					f.PropertyID = e.Config.Property.ID
				}
				orders, err := e.Repo.ListWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Type", "Status", "Priority", "Assignee", "Due"})
				for _, w := range orders {
					assignee := ""
					if w.AssignedTo != nil {
						assignee = *w.AssignedTo
					}
					tw.AppendRow(table.Row{w.Code, w.Title, w.WorkType, w.Status, w.Priority, assignee, w.DueDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.WorkType, "type", "", "work type filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.AssetID, "asset-id", "", "asset filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func workOrderGetCmd() *cobra.Command {
	var byCode bool
	cmd := &cobra.Command{
		Use:   "get <id|code>",
		Short: "Get work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var w domain.WorkOrder
				var err error
				if byCode {
					w, err = e.Repo.GetWorkOrderByCode(ctx, e.Config.Property.ID, ref)
				} else {
					w, err = e.Repo.GetWorkOrder(ctx, ref)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().BoolVar(&byCode, "code", false, "look up by work order code instead of id")
	return cmd
}

func workOrderUpdateCmd() *cobra.Command {
	var title, description, priority, assign, locationID, dueDate string
	var recurrence string
	var windowDays int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkOrderUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("assign") {
				opts.AssignedTo = &assign
			}
			if cmd.Flags().Changed("location-id") {
				opts.LocationID = &locationID
			}
			if cmd.Flags().Changed("due") {
				opts.DueDate = &dueDate
			}
			if cmd.Flags().Changed("recurrence") {
				opts.Preventive = &domain.PreventiveDetails{RecurrenceRule: recurrence, WindowDays: windowDays}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.UpdateWorkOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Args = cobra.ExactArgs(1)
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&assign, "assign", "", "set assignee id (empty clears)")
	cmd.Flags().StringVar(&locationID, "location-id", "", "new location id")
	cmd.Flags().StringVar(&dueDate, "due", "", "new due date (YYYY-MM-DD, empty clears)")
	cmd.Flags().StringVar(&recurrence, "recurrence", "", "preventive recurrence rule")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "preventive execution window in days")
	return cmd
}

func workOrderTransitionCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Move work order to a new status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.TransitionWorkOrder(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (active, in_progress, review, done)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func workOrderPhotoCmd() *cobra.Command {
	photo := &cobra.Command{Use: "photo", Short: "Work order photos"}
	photo.AddCommand(workOrderPhotoAddCmd())
	photo.AddCommand(workOrderPhotoListCmd())
	return photo
}

func workOrderPhotoAddCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Attach a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AttachPhoto(ctx, args[0], url, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "photo URL")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func workOrderPhotoListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List photos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				photos, err := e.Repo.ListPhotos(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(photos)
			})
		},
	}
	return cmd
}

func workOrderHistoryCmd() *cobra.Command {
	var action string
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show work order history",
		Long:  "Audit entries most recent first. History survives work order deletion; pass the old id to read the trail of a deleted order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListHistory(ctx, repo.HistoryFilters{
					WorkOrderID: args[0],
					Action:      action,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Action", "By", "Description"})
				for _, h := range entries {
					tw.AppendRow(table.Row{h.PerformedAt, h.Action, h.PerformedByName, h.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func workOrderDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteWorkOrder(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notify",
		Short: "Notifications",
		Long:  "Notifications announce work order changes to the people involved. List your inbox, mark items read, or watch new ones arrive live.",
	}
	n.AddCommand(notifyListCmd())
	n.AddCommand(notifyReadCmd())
	n.AddCommand(notifyReadAllCmd())
	n.AddCommand(notifyDeleteCmd())
	n.AddCommand(notifyWatchCmd())
	return n
}

func notifyListCmd() *cobra.Command {
	var unread bool
	var module, action string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
					UserID:     viper.GetString("actor-id"),
					Module:     module,
					Action:     action,
					UnreadOnly: unread,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Action", "Message", "Read"})
				for _, n := range items {
					read := ""
					if n.IsRead {
						read = "x"
					}
					tw.AppendRow(table.Row{n.CreatedAt, n.Action, n.Message, read})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	cmd.Flags().StringVar(&module, "module", "", "module filter")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func notifyReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.MarkNotificationRead(ctx, args[0])
			})
		},
	}
	return cmd
}

func notifyReadAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read-all",
		Short: "Mark all notifications read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				affected, err := e.Repo.MarkAllNotificationsRead(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int64{"marked": affected})
				}
				fmt.Printf("marked %d notifications read\n", affected)
				return nil
			})
		},
	}
	return cmd
}

func notifyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteNotification(ctx, args[0])
			})
		},
	}
	return cmd
}

func notifyWatchCmd() *cobra.Command {
	var interval time.Duration
	var all bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch new notifications as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cursorCreated := time.Now().UTC().Format(time.RFC3339)
				cursorID := ""
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				fmt.Println("watching for notifications (ctrl-c to stop)")
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					items, err := e.Repo.NotificationsAfter(ctx, 100, cursorCreated, cursorID)
					if err != nil {
						return err
					}
					for _, n := range items {
						cursorCreated = n.CreatedAt
						cursorID = n.ID
						if !all && len(n.Recipients) > 0 && !n.RecipientOf(actorID) {
							continue
						}
						if viper.GetBool("json") {
							if err := printJSON(n); err != nil {
								return err
							}
							continue
						}
						fmt.Printf("%s  [%s]  %s\n", n.CreatedAt, n.Action, n.Message)
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	cmd.Flags().BoolVar(&all, "all", false, "show notifications addressed to anyone")
	return cmd
}

func actorCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
		Long:  "Actors are the people referenced by history and notifications. Deleting one does not rewrite history; old entries show Unknown User.",
	}
	a.AddCommand(actorListCmd())
	a.AddCommand(actorSetNameCmd())
	a.AddCommand(actorDeleteCmd())
	return a
}

func actorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListActors(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func actorSetNameCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "set-name <id>",
		Short: "Set actor display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetActorDisplayName(ctx, args[0], name)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func actorDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteActor(ctx, args[0])
			})
		},
	}
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyDeleteCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		Long:  "Prints the key once; only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				raw, key, err := r.MintAPIKey(ctx, actorID, name, now)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": raw})
				}
				fmt.Printf("API key for %s (save it now, it is not stored):\n%s\n", actorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolvePropertyAndConfig(cmd.Context(), workspace, viper.GetString("property"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			hub := notify.NewHub()
			pub := notify.NewPublisher(r, notify.ResolverFor(cfg.Notifications.NotifyStakeholders), notify.SinkFor(cfg.Strategy(), hub))
			e := engine.New(conn, cfg, pub)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("ATRIUM_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ATRIUM_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, Hub: hub, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Atrium API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolvePropertyAndConfig(ctx, workspace, viper.GetString("property"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	pub := notify.NewPublisher(r, notify.ResolverFor(cfg.Notifications.NotifyStakeholders), nil)
	e := engine.New(conn, cfg, pub)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
