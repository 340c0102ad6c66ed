package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/BookMeBot/book-me-bot/internal/config"
	"github.com/BookMeBot/book-me-bot/internal/middleware"
	"github.com/BookMeBot/book-me-bot/internal/service/vault"
	"github.com/BookMeBot/book-me-bot/internal/service/wallet"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	mode := flag.StringP("mode", "m", "", "模式: register, store, retrieve 或 token")
	appID := flag.String("app", "", "Vault app id (store/retrieve)")
	name := flag.String("name", wallet.SecretName, "secret 名称")
	value := flag.String("value", "", "要写入的 secret (store)")
	subject := flag.String("subject", "operator", "运维令牌的 subject (token)")
	ttl := flag.Duration("ttl", time.Hour, "运维令牌有效期 (token)")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	if *mode == "token" {
		mintToken(*subject, *ttl)
		return
	}

	vaultCfg, err := config.LoadVault()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	client := vault.NewClient(vault.Config{BaseURL: vaultCfg.BaseURL, Timeout: vaultCfg.Timeout})
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "register":
		id, err := client.RegisterAppID(ctx)
		if err != nil {
			log.Fatalf("注册失败: %v", err)
		}
		fmt.Println(id)
	case "store":
		requireApp(*appID)
		if *value == "" {
			log.Fatal("store 模式需要 --value")
		}
		if err := client.StoreSecret(ctx, *appID, vaultCfg.UserSeed, *name, *value); err != nil {
			log.Fatalf("写入失败: %v", err)
		}
		log.Printf("stored %s under app %s", *name, *appID)
	case "retrieve":
		requireApp(*appID)
		secret, ok, err := client.RetrieveSecret(ctx, *appID, vaultCfg.UserSeed, *name)
		if err != nil {
			log.Fatalf("读取失败: %v", err)
		}
		if !ok {
			log.Printf("app %s has no secret named %s", *appID, *name)
			os.Exit(2)
		}
		if *name == wallet.SecretName {
			if addr, err := wallet.AddressFromKey(secret); err == nil {
				log.Printf("wallet address: %s", addr)
			}
		}
		fmt.Println(secret)
	default:
		flag.Usage()
		log.Fatal("请通过 --mode=register|store|retrieve|token 指定模式")
	}
}

func requireApp(appID string) {
	if appID == "" {
		log.Fatal("该模式需要 --app")
	}
}

func mintToken(subject string, ttl time.Duration) {
	admin := config.LoadAdmin()
	if admin.JWTSecret == "" {
		log.Fatal("ADMIN_JWT_SECRET 未配置")
	}
	token, err := middleware.IssueAdminToken([]byte(admin.JWTSecret), subject, ttl)
	if err != nil {
		log.Fatalf("签发失败: %v", err)
	}
	fmt.Println(token)
}
