package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/y-hosokawa/hibari/pkg/knowledge"
	"github.com/y-hosokawa/hibari/pkg/model"
)

func knowledgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "knowledge",
		Usage: "Manage the knowledge graph",
		Commands: []*cli.Command{
			knowledgeAddCommand(),
			knowledgeLinkCommand(),
			knowledgeSearchCommand(),
		},
	}
}

func knowledgeAddCommand() *cli.Command {
	var (
		cfg         config
		owner       string
		title       string
		description string
		content     string
		nodeType    string
		tags        []string
	)

	flags := append(globalFlags(&cfg),
		&cli.StringFlag{
			Name:        "owner",
			Aliases:     []string{"o"},
			Usage:       "Owner account ID",
			Required:    true,
			Sources:     cli.EnvVars("HIBARI_OWNER"),
			Destination: &owner,
		},
		&cli.StringFlag{
			Name:        "title",
			Aliases:     []string{"t"},
			Usage:       "Node title",
			Required:    true,
			Destination: &title,
		},
		&cli.StringFlag{
			Name:        "description",
			Usage:       "One-line description",
			Destination: &description,
		},
		&cli.StringFlag{
			Name:        "content",
			Aliases:     []string{"c"},
			Usage:       "Full node content",
			Destination: &content,
		},
		&cli.StringFlag{
			Name:        "type",
			Usage:       "Node type (concept, technique, reference, moc, claim, procedure)",
			Value:       string(model.NodeTypeConcept),
			Destination: &nodeType,
		},
		&cli.StringSliceFlag{
			Name:        "tag",
			Usage:       "Node tags",
			Destination: &tags,
		},
	)

	return &cli.Command{
		Name:  "add",
		Usage: "Create a knowledge node",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			node, err := knowledge.New(repo).CreateNode(ctx, &model.KnowledgeNode{
				OwnerID:     model.OwnerID(owner),
				Title:       title,
				Description: description,
				Content:     content,
				Type:        model.NodeType(nodeType),
				Tags:        tags,
			})
			if err != nil {
				return err
			}

			fmt.Println(node.ID)
			return nil
		},
	}
}

func knowledgeLinkCommand() *cli.Command {
	var (
		cfg   config
		owner string
	)

	flags := append(globalFlags(&cfg),
		&cli.StringFlag{
			Name:        "owner",
			Aliases:     []string{"o"},
			Usage:       "Owner account ID",
			Required:    true,
			Sources:     cli.EnvVars("HIBARI_OWNER"),
			Destination: &owner,
		},
	)

	return &cli.Command{
		Name:      "link",
		Usage:     "Link two knowledge nodes",
		ArgsUsage: "<node-id> <node-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if c.Args().Len() != 2 {
				return goerr.New("exactly two node id arguments are required")
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			return knowledge.New(repo).Link(ctx,
				model.OwnerID(owner),
				model.NodeID(c.Args().Get(0)),
				model.NodeID(c.Args().Get(1)))
		},
	}
}

func knowledgeSearchCommand() *cli.Command {
	var (
		cfg   config
		owner string
		agent string
		limit int64
	)

	flags := append(globalFlags(&cfg),
		&cli.StringFlag{
			Name:        "owner",
			Aliases:     []string{"o"},
			Usage:       "Owner account ID",
			Required:    true,
			Sources:     cli.EnvVars("HIBARI_OWNER"),
			Destination: &owner,
		},
		&cli.StringFlag{
			Name:        "agent",
			Aliases:     []string{"a"},
			Usage:       "Agent ID attributed to the recall",
			Destination: &agent,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of nodes",
			Value:       knowledge.DefaultMaxNodes,
			Destination: &limit,
		},
	)

	return &cli.Command{
		Name:      "search",
		Usage:     "Recall knowledge nodes for a query",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if c.Args().Len() != 1 {
				return goerr.New("exactly one query argument is required")
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}

			nodes, err := knowledge.New(repo).Recall(ctx,
				model.OwnerID(owner), model.AgentID(agent), c.Args().First(), int(limit))
			if err != nil {
				return err
			}

			for _, node := range nodes {
				fmt.Printf("%s\t%s\t%s (%s)\n", node.Node.ID, node.Node.Type, node.Node.Title, node.Source)
				if node.Node.Description != "" {
					fmt.Printf("\t%s\n", node.Node.Description)
				}
			}
			return nil
		},
	}
}
