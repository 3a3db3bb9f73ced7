// Lambda entrypoint for the tree-index expiry sweeper, attached to the entity
// table's DynamoDB stream.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/stream"
)

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

	lambda.Start(stream.NewHandler(st, logger).HandleExpirySweep)
}
