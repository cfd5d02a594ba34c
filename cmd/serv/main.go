package main

import (
	"log"

	"github.com/dushixiang/stepbot/internal"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "stepbot",
	Short: "Stepbot - 网格/定投现货交易引擎",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		// .env 不存在时忽略，已有的环境变量不会被覆盖
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env") {
			return err
		}
		return internal.Run(configFile)
	},
}

func init() {
	// 全局配置文件标志
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", ".env", "环境变量文件路径")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
