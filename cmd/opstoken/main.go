// Command opstoken mints an access token for the ops API.
//
//	opstoken -sub alice -role STAFF -ttl 8h
package main

import (
    "flag"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/utils"
)

func main() {
    sub := flag.String("sub", "", "token subject (staff user id)")
    role := flag.String("role", "STAFF", "OWNER or STAFF")
    ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
    flag.Parse()

    _ = godotenv.Load()
    secret := os.Getenv("JWT_SECRET")
    if secret == "" {
        logrus.Fatal("JWT_SECRET is not set")
    }
    if *sub == "" {
        flag.Usage()
        os.Exit(2)
    }

    tok, exp, err := utils.NewAccessToken(secret, *sub, strings.ToUpper(*role), *ttl)
    if err != nil {
        logrus.WithError(err).Fatal("sign token")
    }
    fmt.Println(tok)
    fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
}
