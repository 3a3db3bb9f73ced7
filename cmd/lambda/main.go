// Lambda entrypoint serving the arbor HTTP surface behind API Gateway.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"

	"github.com/jacentio/arbor/api"
	"github.com/jacentio/arbor/batch"
	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/hierarchy"
	"github.com/jacentio/arbor/store"
)

var chiLambda *chiadapter.ChiLambdaV2

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("unable to load AWS config", "error", err)
		os.Exit(1)
	}

	st := store.New(dynamodb.NewFromConfig(awsCfg), store.Config{
		Table:     os.Getenv("ARBOR_TABLE"),
		TreeTable: os.Getenv("ARBOR_TREE_TABLE"),
	}, logger)

	entityType := os.Getenv("ARBOR_ENTITY_TYPE")
	if entityType == "" {
		entityType = "task"
	}
	schema := &entity.Schema{
		Name:     entityType,
		IDPrefix: strings.ToUpper(entityType),
		AlternateKey: func(props map[string]any) string {
			ak, _ := props["nodeId"].(string)
			return ak
		},
	}

	nodes := api.NewNodeHandler(hierarchy.New(st, schema, logger), api.WorkspaceAccess{}, logger)
	bulk := api.NewBulkHandler(batch.New(st, schema, logger), api.WorkspaceAccess{}, logger)
	router := api.Router(nodes, bulk, api.HeaderIdentityParser{})

	chiLambda = chiadapter.NewV2(router)
	lambda.Start(handler)
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return chiLambda.ProxyWithContextV2(ctx, req)
}
